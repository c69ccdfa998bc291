package recognition

// S3Object identifies an image stored in an S3 bucket. The object is not
// fetched locally; Rekognition pulls it directly during detection.
type S3Object struct {
	Bucket string
	Key    string
}

// ImageRef identifies an image either by raw bytes or by its S3 location,
// plus a display name. Exactly one of Bytes or S3Object is populated.
// The zero value is not meaningful; use FromBytes or FromS3Object.
//
// No validation happens at construction; a malformed reference only
// surfaces when the detector sends it to the service.
type ImageRef struct {
	Bytes    []byte
	S3Object *S3Object
	Name     string
}

// FromBytes builds an ImageRef carrying the image bytes directly.
func FromBytes(data []byte, name string) ImageRef {
	return ImageRef{Bytes: data, Name: name}
}

// FromS3Object builds an ImageRef pointing at an S3 object. The display
// name is the object key.
func FromS3Object(bucket, key string) ImageRef {
	return ImageRef{S3Object: &S3Object{Bucket: bucket, Key: key}, Name: key}
}
