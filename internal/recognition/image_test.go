package recognition

import (
	"bytes"
	"testing"
)

func TestFromBytesKeepsDisplayName(t *testing.T) {
	data := []byte{0x89, 0x50, 0x4e, 0x47}
	img := FromBytes(data, "street.png")

	if img.Name != "street.png" {
		t.Fatalf("unexpected display name: %s", img.Name)
	}
	if !bytes.Equal(img.Bytes, data) {
		t.Fatalf("expected raw bytes to be stored, got %v", img.Bytes)
	}
	if img.S3Object != nil {
		t.Fatalf("expected no S3 location, got %+v", img.S3Object)
	}
}

func TestFromS3ObjectUsesKeyAsName(t *testing.T) {
	img := FromS3Object("scene-images", "crossing/a.jpg")

	if img.Name != "crossing/a.jpg" {
		t.Fatalf("expected name to equal object key, got %s", img.Name)
	}
	if img.S3Object == nil {
		t.Fatal("expected S3 location to be set")
	}
	if img.S3Object.Bucket != "scene-images" || img.S3Object.Key != "crossing/a.jpg" {
		t.Fatalf("unexpected S3 location: %+v", img.S3Object)
	}
	if img.Bytes != nil {
		t.Fatalf("expected no raw bytes, got %d bytes", len(img.Bytes))
	}
}
