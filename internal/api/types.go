package api

import (
	"encoding/xml"
	"io"
	"time"
)

// ListObjectsInput carries the parameters for one ListObjectsV2 page.
type ListObjectsInput struct {
	Bucket            string
	Prefix            string
	Delimiter         string
	MaxKeys           int
	ContinuationToken string
}

// ListObjectsPage is one page of a ListObjectsV2 response.
type ListObjectsPage struct {
	Objects               []ObjectEntry
	CommonPrefixes        []string
	IsTruncated           bool
	NextContinuationToken string
}

// ObjectEntry is one object row from a list response.
type ObjectEntry struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	StorageClass string
}

// PutObjectInput carries the parameters for a PutObject call.
type PutObjectInput struct {
	Bucket      string
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// PutObjectOutput is the result of a PutObject call.
type PutObjectOutput struct {
	ETag string
}

// GetObjectInput carries the parameters for a GetObject call. Range follows
// RFC 7233 (e.g. "bytes=0-4194303"); empty fetches the whole object.
type GetObjectInput struct {
	Bucket string
	Key    string
	Range  string
}

// GetObjectOutput is the result of a GetObject call. The caller owns Body.
type GetObjectOutput struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
	ETag          string
	LastModified  time.Time
}

// HeadObjectOutput is the result of a HeadObject call.
type HeadObjectOutput struct {
	ContentLength int64
	ContentType   string
	ETag          string
	LastModified  time.Time
	Metadata      map[string]string
}

// UploadPartInput carries the parameters for one UploadPart call. Body must
// be rewindable so the transport can retry transient failures.
type UploadPartInput struct {
	Bucket     string
	Key        string
	UploadID   string
	PartNumber int
	Body       io.ReadSeeker
	Size       int64
}

// CompletedPart pairs a part number with the ETag the backend returned for it.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// PartInfo describes one part from a ListParts response.
type PartInfo struct {
	PartNumber int
	ETag       string
	Size       int64
}

// XML payload types for the S3 wire protocol.

type listAllMyBucketsResult struct {
	XMLName xml.Name `xml:"ListAllMyBucketsResult"`
	Buckets struct {
		Bucket []struct {
			Name         string    `xml:"Name"`
			CreationDate time.Time `xml:"CreationDate"`
		} `xml:"Bucket"`
	} `xml:"Buckets"`
}

type listBucketResult struct {
	XMLName               xml.Name `xml:"ListBucketResult"`
	IsTruncated           bool     `xml:"IsTruncated"`
	NextContinuationToken string   `xml:"NextContinuationToken"`
	Contents              []struct {
		Key          string    `xml:"Key"`
		Size         int64     `xml:"Size"`
		ETag         string    `xml:"ETag"`
		LastModified time.Time `xml:"LastModified"`
		StorageClass string    `xml:"StorageClass"`
	} `xml:"Contents"`
	CommonPrefixes []struct {
		Prefix string `xml:"Prefix"`
	} `xml:"CommonPrefixes"`
}

type createBucketConfiguration struct {
	XMLName            xml.Name `xml:"CreateBucketConfiguration"`
	LocationConstraint string   `xml:"LocationConstraint"`
}

type copyObjectResult struct {
	XMLName xml.Name `xml:"CopyObjectResult"`
	ETag    string   `xml:"ETag"`
}

type initiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

type completeMultipartUpload struct {
	XMLName xml.Name                      `xml:"CompleteMultipartUpload"`
	Parts   []completeMultipartUploadPart `xml:"Part"`
}

type completeMultipartUploadPart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

type completeMultipartUploadResult struct {
	XMLName xml.Name `xml:"CompleteMultipartUploadResult"`
	ETag    string   `xml:"ETag"`
}

type listPartsResult struct {
	XMLName xml.Name `xml:"ListPartsResult"`
	Parts   []struct {
		PartNumber int    `xml:"PartNumber"`
		ETag       string `xml:"ETag"`
		Size       int64  `xml:"Size"`
	} `xml:"Part"`
	IsTruncated          bool `xml:"IsTruncated"`
	NextPartNumberMarker int  `xml:"NextPartNumberMarker"`
}
