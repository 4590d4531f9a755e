package objstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/obslake/obslake/gologger"
	"github.com/obslake/obslake/utils"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.NewLogger()
)

func awsConfig() *aws.Config {
	s3Config := &aws.Config{
		Region:      aws.String(utils.AWS_DEFAULT_REGION),
		Credentials: credentials.NewEnvCredentials(),
	}
	if utils.S3_ENDPOINT != "" {
		s3Config.Endpoint = aws.String(utils.S3_ENDPOINT)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}
	return s3Config
}

// NewS3Client returns a bare S3 client for callers that need ranged reads,
// like the parquet object reader used during merges.
func NewS3Client() (*s3.S3, error) {
	sess, err := session.NewSession(awsConfig())
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}
	return s3.New(sess), nil
}

func WriteBytes(ctx context.Context, filePath string, byteStream io.Reader, contentType *string) (*s3manager.UploadOutput, error) {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	s3Session, err := session.NewSession(awsConfig())
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}

	uploader := s3manager.NewUploader(s3Session)

	input := &s3manager.UploadInput{
		Bucket:      aws.String(utils.S3_BUCKET_NAME),
		Key:         aws.String(filePath),
		Body:        byteStream,
		ContentType: contentType,
	}

	s := time.Now()
	output, err := uploader.UploadWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("error uploading to s3: %w", err)
	}

	d := time.Since(s)
	logger.Debug().Str("filePath", filePath).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("uploaded file to s3")

	return output, nil
}

// DeleteFile removes a blob. Deleting a key that is already gone is not an
// error, so retirement sweeps can be re-run safely.
func DeleteFile(ctx context.Context, filePath string) error {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)

	client, err := NewS3Client()
	if err != nil {
		return err
	}

	_, err = client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(utils.S3_BUCKET_NAME),
		Key:    aws.String(filePath),
	})
	if err != nil {
		return fmt.Errorf("error deleting from s3: %w", err)
	}

	logger.Debug().Str("filePath", filePath).Msg("deleted file from s3")
	return nil
}
