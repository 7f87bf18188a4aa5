// Package normalize turns a raw model reply into an ordered list of typed
// message candidates. Replies are requested as JSON arrays but models often
// wrap, truncate, or mangle them, so decoding runs a strictly ordered
// fallback chain and always yields at least one candidate.
package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Candidate type tags. These mirror the persisted message types, plus
// "memory" which is consumed by the dispatcher and never stored.
const (
	TypeText     = "text"
	TypeVoice    = "voice"
	TypeImage    = "image"
	TypeTransfer = "transfer"
	TypeRecall   = "recall"
	TypeHTML     = "html"
	TypeMemory   = "memory"
	TypeSticker  = "sticker"
)

// Candidate is one provisionally-typed message extracted from a reply,
// before dispatch side effects and persistence.
type Candidate struct {
	Type              string
	Content           string
	SenderName        string
	VoiceDuration     int
	ImageURL          string
	TransferAmount    float64
	TransferNote      string
	OriginalMessageID string
	StickerURL        string
	Timestamp         int64
}

// Level records which decoding strategy produced the result. Higher levels
// mean deeper fallbacks; callers may log LevelSplit and LevelRaw as a signal
// that the model is drifting off format.
type Level int

const (
	// LevelStrict is a clean array parse, possibly after unwrapping a code fence.
	LevelStrict Level = iota
	// LevelEmbedded parsed an array literal located inside surrounding prose.
	LevelEmbedded
	// LevelSplit gave up on structural parsing and comma-split the bracket interior.
	LevelSplit
	// LevelRaw is the terminal fallback: the whole text as one literal element.
	LevelRaw
)

func (l Level) String() string {
	switch l {
	case LevelStrict:
		return "strict"
	case LevelEmbedded:
		return "embedded"
	case LevelSplit:
		return "split"
	default:
		return "raw"
	}
}

// Normalize decodes a raw reply into candidates. It never fails: malformed
// input degrades step by step until the whole text becomes a single text
// candidate. Candidates are timestamped at emission time plus their index so
// intra-batch order survives persistence.
func Normalize(raw string, isGroup bool) ([]Candidate, Level) {
	clean := stripCodeFence(strings.TrimSpace(raw))
	elements, level := decode(clean)

	now := time.Now().UnixMilli()
	out := make([]Candidate, 0, len(elements))
	for _, el := range elements {
		c, ok := classify(el, isGroup)
		if !ok {
			continue
		}
		c.Timestamp = now + int64(len(out))
		out = append(out, c)
	}

	if len(out) == 0 {
		out = append(out, Candidate{Type: TypeText, Content: clean, Timestamp: now})
		level = LevelRaw
	}
	return out, level
}

// stripCodeFence removes a leading ```json or ``` fence and its closing
// marker when the text starts fenced.
func stripCodeFence(s string) string {
	switch {
	case strings.HasPrefix(s, "```json"):
		s = strings.TrimPrefix(s, "```json")
	case strings.HasPrefix(s, "```"):
		s = strings.TrimPrefix(s, "```")
	default:
		return s
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// decode runs the fallback chain and reports which step succeeded.
func decode(clean string) ([]any, Level) {
	var parsed any
	if err := json.Unmarshal([]byte(clean), &parsed); err == nil {
		if arr, ok := parsed.([]any); ok {
			return arr, LevelStrict
		}
		// valid JSON but not an array: look for an array literal inside it
		if inner, ok := bracketInterior(clean); ok {
			var arr []any
			if err := json.Unmarshal([]byte("["+inner+"]"), &arr); err == nil {
				return arr, LevelEmbedded
			}
		}
		return []any{clean}, LevelRaw
	}

	inner, ok := bracketInterior(clean)
	if !ok {
		return []any{clean}, LevelRaw
	}
	var arr []any
	if err := json.Unmarshal([]byte("["+inner+"]"), &arr); err == nil {
		return arr, LevelEmbedded
	}
	return splitQuoted(inner), LevelSplit
}

// bracketInterior returns the text between the first '[' and the last ']'.
// A missing closing bracket is tolerated: the interior runs to end of text,
// since truncated replies commonly lose the tail.
func bracketInterior(s string) (string, bool) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", false
	}
	if end := strings.LastIndexByte(s, ']'); end > start {
		return s[start+1 : end], true
	}
	return s[start+1:], true
}

var quoteBoundary = regexp.MustCompile(`",\s*"`)

// splitQuoted is the deepest structured fallback: split the interior on
// comma-separated quoted-string boundaries and trim each fragment.
func splitQuoted(interior string) []any {
	parts := quoteBoundary.Split(interior, -1)
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if t := trimFragment(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// trimFragment strips surrounding quotes and whitespace, then drops any
// trailing garbage after a stray quote.
func trimFragment(s string) string {
	s = strings.Trim(s, "\"' \t\r\n")
	if i := strings.IndexAny(s, "\"'"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// ---------- element classification ----------

func classify(el any, isGroup bool) (Candidate, bool) {
	switch v := el.(type) {
	case string:
		c := Candidate{Type: TypeText, Content: strings.TrimSpace(v)}
		return c, c.Content != ""
	case map[string]any:
		return classifyObject(v, isGroup)
	case nil:
		return Candidate{}, false
	default:
		// numbers, booleans
		c := Candidate{Type: TypeText, Content: strings.TrimSpace(fmt.Sprint(v))}
		return c, c.Content != ""
	}
}

func classifyObject(obj map[string]any, isGroup bool) (Candidate, bool) {
	name := stringField(obj, "name")
	typ := stringField(obj, "type")

	// group conversation shape: {"name": ..., "message": ...}
	if isGroup && name != "" && typ == "" {
		if msg := strings.TrimSpace(stringField(obj, "message")); msg != "" {
			return Candidate{Type: TypeText, SenderName: name, Content: msg}, true
		}
	}

	if typ == "" {
		// no recognizable shape: serialize as a last resort
		raw, err := json.Marshal(obj)
		if err != nil {
			return Candidate{}, false
		}
		return Candidate{Type: TypeText, Content: string(raw)}, true
	}

	c := Candidate{Type: typ, Content: strings.TrimSpace(stringField(obj, "content"))}
	if c.Content == "" {
		c.Content = strings.TrimSpace(stringField(obj, "description"))
	}
	if isGroup {
		c.SenderName = name
	}

	switch typ {
	case TypeVoice:
		c.VoiceDuration = intField(obj, "voiceDuration")
		if c.VoiceDuration <= 0 {
			c.VoiceDuration = estimateVoiceDuration(c.Content)
		}
	case TypeImage:
		c.ImageURL = stringField(obj, "imageUrl")
	case TypeTransfer:
		c.TransferAmount = floatField(obj, "transferAmount")
		c.TransferNote = stringField(obj, "transferNote")
		if c.Content == "" {
			c.Content = fmt.Sprintf("Transferred %.2f", c.TransferAmount)
		}
	case TypeRecall:
		c.OriginalMessageID = stringField(obj, "originalMessageId")
	case TypeSticker:
		c.StickerURL = stringField(obj, "stickerUrl")
	case TypeText, TypeMemory, TypeHTML:
	default:
		c.Type = TypeText
	}

	// empties are dropped, except transfer and image which are
	// content-optional by design of their payloads
	if c.Content == "" && typ != TypeTransfer && typ != TypeImage {
		return c, false
	}
	return c, true
}

// estimateVoiceDuration derives a plausible playback length in seconds from
// the text length when the model omits one.
func estimateVoiceDuration(content string) int {
	secs := (len([]rune(content)) + 3) / 4
	if secs < 1 {
		secs = 1
	}
	if secs > 60 {
		secs = 60
	}
	return secs
}

func stringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

func floatField(obj map[string]any, key string) float64 {
	if v, ok := obj[key].(float64); ok {
		return v
	}
	return 0
}

func intField(obj map[string]any, key string) int {
	return int(floatField(obj, key))
}
