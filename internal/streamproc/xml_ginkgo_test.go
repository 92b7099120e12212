package streamproc_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/core/internal/streamproc"
	"github.com/opencode-ai/core/pkg/types"
)

var _ = Describe("XML tool tokenizer", func() {
	var (
		proc      *streamproc.Processor
		fragments []types.DisplayFragment
		requests  []types.ToolRequest
	)

	feed := func(chunks ...string) {
		for _, c := range chunks {
			proc.ProcessText(c)
		}
	}

	plainText := func() string {
		var s string
		for _, f := range fragments {
			if f.Kind == types.FragmentPlainText {
				s += f.Text
			}
		}
		return s
	}

	BeforeEach(func() {
		fragments = nil
		requests = nil
		proc = streamproc.New(streamproc.ModeXML, "req-1", func(f types.DisplayFragment) {
			fragments = append(fragments, f)
		}, func(r types.ToolRequest) {
			requests = append(requests, r)
		})
	})

	Describe("text outside tool regions", func() {
		It("passes plain text through verbatim", func() {
			feed("hello ", "world")
			Expect(plainText()).To(Equal("hello world"))
			Expect(requests).To(BeEmpty())
		})

		It("holds back a suffix that might open a tool tag", func() {
			feed("before <to")
			Expect(plainText()).To(Equal("before "))

			feed("night falls") // "<tonight falls" proves non-matching
			Expect(plainText()).To(Equal("before <tonight falls"))
		})
	})

	Describe("a complete tool call", func() {
		It("emits ToolName, parameters, and ToolEnd in order", func() {
			feed("<tool:search_files><param:regex>func main</param:regex></tool:search_files>")

			Expect(fragments).To(HaveLen(3))
			Expect(fragments[0].Kind).To(Equal(types.FragmentToolName))
			Expect(fragments[0].ToolName).To(Equal("search_files"))
			Expect(fragments[1].Kind).To(Equal(types.FragmentToolParameter))
			Expect(fragments[1].ParamKey).To(Equal("regex"))
			Expect(fragments[1].Chunk).To(Equal("func main"))
			Expect(fragments[2].Kind).To(Equal(types.FragmentToolEnd))
		})

		It("assigns the deterministic request-scoped tool id", func() {
			feed("<tool:x><param:k>v</param:k></tool:x>")
			Expect(requests).To(HaveLen(1))
			Expect(requests[0].ID).To(Equal("tool-req-1-1"))
		})

		It("preserves parameter whitespace without entity decoding", func() {
			feed("<tool:x><param:code>  if a &lt; b {\n}\n</param:code></tool:x>")

			var input map[string]string
			Expect(json.Unmarshal(requests[0].InputJSON, &input)).To(Succeed())
			Expect(input["code"]).To(Equal("  if a &lt; b {\n}\n"))
		})
	})

	Describe("chunk-boundary robustness", func() {
		It("handles a close tag split across chunks", func() {
			feed("<tool:read><param:p>a</param:p>", "</tool:re", "ad>")
			Expect(requests).To(HaveLen(1))
			Expect(requests[0].Name).To(Equal("read"))
		})

		It("streams a parameter value split across chunks as deltas", func() {
			feed("<tool:x><param:body>first ", "second</param:body></tool:x>")

			var chunks []string
			for _, f := range fragments {
				if f.Kind == types.FragmentToolParameter {
					chunks = append(chunks, f.Chunk)
				}
			}
			Expect(len(chunks)).To(BeNumerically(">=", 2))

			var input map[string]string
			Expect(json.Unmarshal(requests[0].InputJSON, &input)).To(Succeed())
			Expect(input["body"]).To(Equal("first second"))
		})
	})

	Describe("one tool per turn", func() {
		It("truncates everything after the first completed tool", func() {
			feed("<tool:a><param:k>v</param:k></tool:a> trailing <tool:b><param:k>w</param:k></tool:b>")

			Expect(requests).To(HaveLen(1))
			Expect(requests[0].Name).To(Equal("a"))
			Expect(plainText()).To(BeEmpty())
		})
	})
})

var _ = Describe("Native mode", func() {
	var (
		proc      *streamproc.Processor
		fragments []types.DisplayFragment
		requests  []types.ToolRequest
	)

	BeforeEach(func() {
		fragments = nil
		requests = nil
		proc = streamproc.New(streamproc.ModeNative, "req-9", func(f types.DisplayFragment) {
			fragments = append(fragments, f)
		}, func(r types.ToolRequest) {
			requests = append(requests, r)
		})
	})

	It("forwards text and thinking deltas unmodified", func() {
		proc.ProcessText("<tool:not_a_tool>")
		proc.ProcessThinking("hmm")

		Expect(fragments[0].Kind).To(Equal(types.FragmentPlainText))
		Expect(fragments[0].Text).To(Equal("<tool:not_a_tool>"))
		Expect(fragments[1].Kind).To(Equal(types.FragmentThinkingText))
	})

	It("keeps provider-supplied tool ids and accepts several tools", func() {
		proc.ProcessToolUse("call-1", "read", json.RawMessage(`{"filePath":"a.go"}`))
		proc.ProcessToolUse("", "list", json.RawMessage(`{}`))

		Expect(requests).To(HaveLen(2))
		Expect(requests[0].ID).To(Equal("call-1"))
		Expect(requests[1].ID).To(Equal("tool-req-9-1"))
	})
})
