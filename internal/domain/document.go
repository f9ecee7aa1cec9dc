package domain

import (
	"errors"
	"strings"
)

const (
	SchemeGCS = "gs"
	SchemeS3  = "s3"
)

var ErrEmptyDocumentRef = errors.New("document reference is empty")

// DocumentRef is a document reference parsed once at the request boundary.
// References outside the scheme://bucket/path form keep only Raw.
type DocumentRef struct {
	Raw    string
	Scheme string
	Bucket string
	Key    string
}

func ParseDocumentRef(raw string) (DocumentRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DocumentRef{}, ErrEmptyDocumentRef
	}
	ref := DocumentRef{Raw: raw}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return ref, nil
	}
	ref.Scheme = strings.ToLower(scheme)
	ref.Bucket, ref.Key, _ = strings.Cut(rest, "/")
	return ref, nil
}

// Addressable reports whether the reference names an object in one of the
// supported blob stores and can therefore be checked and deleted.
func (r DocumentRef) Addressable() bool {
	switch r.Scheme {
	case SchemeGCS, SchemeS3:
		return r.Bucket != "" && r.Key != ""
	default:
		return false
	}
}

// SourceName is the final path segment of the raw reference.
func (r DocumentRef) SourceName() string {
	return r.Raw[strings.LastIndex(r.Raw, "/")+1:]
}

// Location is bucket/key, used for logging cleanup outcomes.
func (r DocumentRef) Location() string {
	return r.Bucket + "/" + r.Key
}
