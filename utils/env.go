package utils

import "os"

var (
	CATALOG_DSN = os.Getenv("CATALOG_DSN")

	AWS_ACCESS_KEY_ID     = os.Getenv("AWS_ACCESS_KEY_ID")
	AWS_SECRET_ACCESS_KEY = os.Getenv("AWS_SECRET_ACCESS_KEY")
	AWS_DEFAULT_REGION    = GetEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1")

	S3_BUCKET_NAME = os.Getenv("S3_BUCKET_NAME")
	S3_ENDPOINT    = os.Getenv("S3_ENDPOINT")

	// How long retired partition files linger in temporary_files before the
	// sweeper is allowed to delete them from object storage.
	TEMP_FILE_LINGER_SEC = GetEnvOrDefaultInt("TEMP_FILE_LINGER_SEC", 3600)

	// Partition rows whose insert range ended before now minus this many
	// seconds are eligible for retirement. Zero disables age-based sweeps.
	PARTITION_RETENTION_SEC = GetEnvOrDefaultInt("PARTITION_RETENTION_SEC", 0)
)
