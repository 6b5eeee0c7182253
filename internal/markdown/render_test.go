package markdown

import (
	"strings"
	"testing"
)

func TestInlineFormatting(t *testing.T) {
	got := ToTelegramHTML("**bold**, *italic*, ~~gone~~ and `code`")
	want := "<b>bold</b>, <i>italic</i>, <s>gone</s> and <code>code</code>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHeadingsBecomeBoldLines(t *testing.T) {
	got := ToTelegramHTML("# Getting started\n\nInstall the agent first.")
	want := "<b>Getting started</b>\n\nInstall the agent first."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEscapesRawHTMLAndSpecials(t *testing.T) {
	got := ToTelegramHTML("use a <b>tag</b> & compare 1 < 2")
	want := "use a &lt;b&gt;tag&lt;/b&gt; &amp; compare 1 &lt; 2"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFencedCodeKeepsLanguage(t *testing.T) {
	got := ToTelegramHTML("```go\nfmt.Println(1)\n```")
	want := "<pre><code class=\"language-go\">fmt.Println(1)\n</code></pre>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCodeBlockKeepsEveryLine(t *testing.T) {
	got := ToTelegramHTML("```\nfirst := 1\nsecond := 2\n```")
	want := "<pre>first := 1\nsecond := 2\n</pre>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBlockHTMLShownLiterally(t *testing.T) {
	got := ToTelegramHTML("<div class=\"card\">\ninner\n</div>\n\nafter")
	if strings.Contains(got, "<div") {
		t.Fatalf("block HTML leaked through unescaped: %q", got)
	}
	for _, want := range []string{"&lt;div class=&#34;card&#34;&gt;", "inner", "&lt;/div&gt;", "after"} {
		if !strings.Contains(got, want) {
			t.Fatalf("got %q, want it to contain %q", got, want)
		}
	}
}

func TestLists(t *testing.T) {
	got := ToTelegramHTML("- one\n- two\n\n1. first\n2. second")
	want := "• one\n• two\n\n1. first\n2. second"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLinksAndBareURLs(t *testing.T) {
	got := ToTelegramHTML("see [the docs](https://docs.agpt.co/intro)")
	want := "see <a href=\"https://docs.agpt.co/intro\">the docs</a>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	got = ToTelegramHTML("visit https://agpt.co today")
	want = "visit <a href=\"https://agpt.co\">https://agpt.co</a> today"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEmptyInput(t *testing.T) {
	if got := ToTelegramHTML(""); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
	if got := ToTelegramHTML("   \n"); got != "" {
		t.Fatalf("expected empty output for whitespace, got %q", got)
	}
}
