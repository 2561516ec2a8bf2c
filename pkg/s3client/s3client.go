package s3client

import (
	"bytes"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// New builds an S3 client from static credentials.
func New(awsAccessKey, awsSecretKey, region string) (*s3.S3, error) {
	if awsAccessKey == "" || awsSecretKey == "" {
		return nil, fmt.Errorf("AWS access key and secret must be set")
	}
	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(awsAccessKey, awsSecretKey, ""),
		Region:      aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("fail to create session: %w", err)
	}
	return s3.New(sess), nil
}

// UploadObject writes body to bucket/key.
func UploadObject(s3Client *s3.S3, bucket, key string, body []byte) error {
	_, err := s3Client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return err
}
