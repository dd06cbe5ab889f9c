package buildurl

import (
	"testing"
)

func TestNew(t *testing.T) {
	type args struct {
		options []Option
	}
	tests := []struct {
		name string
		args args
		want string
	}{
		{
			name: "base only",
			args: args{
				options: []Option{
					WithBasePath("http://example.org"),
				}},
			want: "http://example.org",
		},
		{
			name: "trailing and leading slashes",
			args: args{
				options: []Option{
					WithBasePath("http://example.org/"),
					WithPathElement("/manifest.json"),
				}},
			want: "http://example.org/manifest.json",
		},
		{
			name: "empty path element is skipped",
			args: args{
				options: []Option{
					WithBasePath("http://example.org"),
					WithPathElement(""),
					WithPathElement("ota"),
				}},
			want: "http://example.org/ota",
		},
		{
			name: "manifest request",
			args: args{
				options: []Option{
					WithBasePath("http://example.org:8000"),
					WithPathElement("manifest.json"),
					WithQueryParam("current_ver", "1.0.0"),
				}},
			want: "http://example.org:8000/manifest.json?current_ver=1.0.0",
		},
		{
			name: "query params are sorted and escaped",
			args: args{
				options: []Option{
					WithBasePath("example.org"),
					WithQueryParam("foo", "a b"),
					WithQueryParam("bar", "&"),
				}},
			want: "example.org?bar=%26&foo=a+b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.args.options...); got != tt.want {
				t.Errorf("New() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuilder_Apply(t *testing.T) {
	b := NewBuilder(WithBasePath("https://updates.example.org"))
	b.Apply(WithPathElement("devices/"), WithPathElement("/manifest.json"))
	b.Apply(WithQueryParam("current_ver", "1.0.0"))
	want := "https://updates.example.org/devices/manifest.json?current_ver=1.0.0"
	if got := b.String(); got != want {
		t.Errorf("String() = %v, want %v", got, want)
	}
}
