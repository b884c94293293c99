package sanitize

import "testing"

func TestText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{in: "  cliente   ligou\n\tagora ", want: "cliente ligou agora"},
		{in: "<b>duplicado</b>", want: "duplicado"},
		{in: "&lt;script&gt;x&lt;/script&gt; ok", want: "x ok"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := Text(tc.in); got != tc.want {
			t.Fatalf("Text(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
