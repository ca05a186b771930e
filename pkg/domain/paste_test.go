package domain

import "testing"

func TestTotalSize(t *testing.T) {
	name := "a.txt"
	cases := []struct {
		name  string
		files []FileInput
		want  int64
	}{
		{"empty", nil, 0},
		{"single", []FileInput{{Filename: &name, Content: "hello"}}, 5},
		{"sums contents only", []FileInput{
			{Filename: &name, Content: "abc"},
			{Filename: nil, Content: "defgh"},
		}, 8},
		{"multibyte counted in bytes", []FileInput{{Content: "héllo"}}, 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TotalSize(tc.files); got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}
