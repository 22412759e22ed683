package gcs

import "google.golang.org/api/option"

func withoutAuth() []option.ClientOption {
	return withEndpoint("http://127.0.0.1:1")
}

func withEndpoint(base string) []option.ClientOption {
	return []option.ClientOption{option.WithoutAuthentication(), option.WithEndpoint(base + "/storage/v1/")}
}
