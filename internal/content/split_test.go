package content

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitRoundTrip(t *testing.T) {
	in := "A<iframe src='x'></iframe>B"
	s := Split(in)
	if !reflect.DeepEqual(s.Prose, []string{"A", "B"}) {
		t.Errorf("prose = %q, want [A B]", s.Prose)
	}
	if !reflect.DeepEqual(s.Embeds, []string{"<iframe src='x'></iframe>"}) {
		t.Errorf("embeds = %q", s.Embeds)
	}
	if s.Join() != in {
		t.Errorf("Join() = %q, want %q", s.Join(), in)
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantProse  []string
		wantEmbeds []string
	}{
		{"no embeds", "just text\n", []string{"just text\n"}, nil},
		{"empty", "", []string{""}, nil},
		{"embed only", "<iframe src=\"a\"></iframe>", nil, []string{"<iframe src=\"a\"></iframe>"}},
		{
			"two embeds non-greedy",
			"x <IFRAME src=a>\n</IFRAME> y <iframe src=b></iframe>",
			[]string{"x ", " y "},
			[]string{"<IFRAME src=a>\n</IFRAME>", "<iframe src=b></iframe>"},
		},
		{"unclosed tag is prose", "a <iframe src=x> b", []string{"a <iframe src=x> b"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Split(tt.in)
			if !reflect.DeepEqual(s.Prose, tt.wantProse) {
				t.Errorf("prose = %q, want %q", s.Prose, tt.wantProse)
			}
			if !reflect.DeepEqual(s.Embeds, tt.wantEmbeds) {
				t.Errorf("embeds = %q, want %q", s.Embeds, tt.wantEmbeds)
			}
			if s.Join() != tt.in {
				t.Errorf("Join() = %q, want %q", s.Join(), tt.in)
			}
		})
	}
}

func TestSplitIdempotentOnProse(t *testing.T) {
	s := Split("intro <iframe src=x></iframe> outro")
	for _, p := range s.Prose {
		again := Split(p)
		if len(again.Prose) != 1 || again.Prose[0] != p || again.HasEmbeds() {
			t.Errorf("Split(%q) = %+v, want single unchanged segment", p, again)
		}
	}
}

func TestLayoutFor(t *testing.T) {
	tests := []struct {
		name   string
		embed  Embed
		narrow bool
		want   Layout
	}{
		{"narrow 16:9", Embed{Width: "1280", Height: "720"}, true, Layout{Narrow: true, AspectW: 16, AspectH: 9}},
		{"narrow 4:3", Embed{Width: "800", Height: "600"}, true, Layout{Narrow: true, AspectW: 4, AspectH: 3}},
		{"narrow missing", Embed{}, true, Layout{Narrow: true, AspectW: 4, AspectH: 3}},
		{"narrow zero height", Embed{Width: "16", Height: "0"}, true, Layout{Narrow: true, AspectW: 4, AspectH: 3}},
		{"wide numeric", Embed{Width: "560px", Height: "315"}, false, Layout{Width: "560px", Height: "315px"}},
		{"wide default", Embed{}, false, Layout{Width: DefaultEmbedWidth, Height: DefaultEmbedHeight}},
		{"wide percent", Embed{Width: "100%", Height: "abc"}, false, Layout{Width: "100px", Height: "abc"}},
		{"wide unsafe", Embed{Width: "1;color:red", Height: "x;y"}, false, Layout{Width: "1px", Height: DefaultEmbedHeight}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LayoutFor(tt.embed, tt.narrow); got != tt.want {
				t.Errorf("LayoutFor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRenderEmbedSanitizes(t *testing.T) {
	raw := `<iframe src="https://maps.example.com/?q=a&b=1" width="640" height="360" onload="alert(1)"><script>x</script></iframe>`
	out := RenderEmbed(raw, false)
	for _, want := range []string{
		`src="https://maps.example.com/?q=a&amp;b=1"`,
		`sandbox="allow-scripts allow-same-origin allow-forms"`,
		`loading="lazy"`,
		`referrerpolicy="no-referrer"`,
		`--iframe-width: 640px; --iframe-height: 360px`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderEmbed() missing %q in %s", want, out)
		}
	}
	if strings.Contains(out, "onload") || strings.Contains(out, "<script>") {
		t.Errorf("RenderEmbed() leaked attributes or children: %s", out)
	}

	narrow := RenderEmbed(raw, true)
	if !strings.Contains(narrow, "aspect-w-16 aspect-h-9") {
		t.Errorf("narrow render = %s, want 16:9 aspect", narrow)
	}
}

func TestRenderParts(t *testing.T) {
	seg := Split(`Map: <iframe src="https://maps.example.com/x" width="1280" height="720"></iframe> done`)
	parts := RenderParts(seg.Parts, true)
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3", len(parts))
	}
	if parts[0].HTML != "" || parts[2].HTML != "" {
		t.Errorf("prose parts rendered: %+v", parts)
	}
	if !strings.Contains(parts[1].HTML, "aspect-w-16 aspect-h-9") || !strings.Contains(parts[1].HTML, `sandbox=`) {
		t.Errorf("embed html = %s", parts[1].HTML)
	}
	if parts[1].Text != seg.Parts[1].Text {
		t.Errorf("raw embed text changed: %q", parts[1].Text)
	}
	if seg.Parts[1].HTML != "" {
		t.Error("RenderParts modified its input")
	}
}

func TestSafeSrc(t *testing.T) {
	tests := map[string]string{
		"https://a.example/x":  "https://a.example/x",
		"http://a.example":     "http://a.example",
		"javascript:alert(1)":  "about:blank",
		"data:text/html,<b>":   "about:blank",
		"/relative/path":       "about:blank",
	}
	for in, want := range tests {
		if got := SafeSrc(in); got != want {
			t.Errorf("SafeSrc(%q) = %q, want %q", in, got, want)
		}
	}
}
