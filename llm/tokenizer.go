package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tiktokenEncodings maps OpenAI model ids (or prefixes) to the tiktoken
// encoding that counts them exactly, mirroring the teacher's own
// TiktokenTokenizer model table.
var tiktokenEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-5":         "o200k_base",
	"o1":            "o200k_base",
	"o3":            "o200k_base",
	"o4":            "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

var (
	tiktokenMu    sync.Mutex
	tiktokenCache = make(map[string]*tiktoken.Tiktoken)
)

// estimateTokens approximates the input token cost of history for the
// InputTooLarge gate in spec.md §4.8 step 2. OpenAI-family models route
// through tiktoken-go for an exact BPE count; every other provider (whose
// tokenizer tiktoken doesn't ship) falls back to the CJK-aware character
// heuristic the teacher's EstimatorTokenizer uses.
func estimateTokens(model string, history []Message) int {
	if enc, ok := tiktokenEncodingFor(model); ok {
		return countWithTiktoken(enc, history)
	}
	return estimateWithHeuristic(history)
}

func tiktokenEncodingFor(model string) (*tiktoken.Tiktoken, bool) {
	name, ok := lookupEncodingName(model)
	if !ok {
		return nil, false
	}

	tiktokenMu.Lock()
	defer tiktokenMu.Unlock()

	if enc, cached := tiktokenCache[name]; cached {
		return enc, true
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, false
	}
	tiktokenCache[name] = enc
	return enc, true
}

func lookupEncodingName(model string) (string, bool) {
	if name, ok := tiktokenEncodings[model]; ok {
		return name, true
	}
	best, bestName := "", ""
	for prefix, name := range tiktokenEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, bestName = prefix, name
		}
	}
	return bestName, best != ""
}

func countWithTiktoken(enc *tiktoken.Tiktoken, history []Message) int {
	total := 0
	for _, msg := range history {
		total += 4 // per-message overhead: <|start|>role\n content <|end|>\n
		total += len(enc.Encode(msg.Content, nil, nil))
		total += len(enc.Encode(string(msg.Role), nil, nil))
		if msg.Name != "" {
			total += len(enc.Encode(msg.Name, nil, nil))
		}
		for _, tc := range msg.ToolCalls {
			total += len(enc.Encode(tc.Name, nil, nil))
			total += len(tc.Arguments) / 4
		}
	}
	total += 3 // conversation-end overhead
	return total
}

func estimateWithHeuristic(history []Message) int {
	total := 0
	for _, msg := range history {
		total += 4 // per-message overhead, as the teacher's tokenizer charges
		total += estimateTextTokens(msg.Content)
		if msg.Name != "" {
			total += estimateTextTokens(msg.Name)
		}
		for _, tc := range msg.ToolCalls {
			total += estimateTextTokens(tc.Name)
			total += len(tc.Arguments) / 4
		}
	}
	return total
}

func estimateTextTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjk, other int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			cjk++
		} else {
			other++
		}
	}
	tokens := float64(cjk)/1.5 + float64(other)/4.0
	if tokens < 1 {
		return 1
	}
	return int(tokens)
}
