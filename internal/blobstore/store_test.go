package blobstore

import "testing"

func TestCleanPathNormalizes(t *testing.T) {
	cleaned, err := CleanPath(" owner/./doc//rev_0.pdf ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleaned != "owner/doc/rev_0.pdf" {
		t.Fatalf("unexpected cleaned path %q", cleaned)
	}
}
