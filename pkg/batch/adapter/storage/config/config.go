package config

// StorageConfig describes where input objects are read from.
type StorageConfig struct {
	// Type is "local" or "gcs".
	Type       string `yaml:"type"`
	BucketName string `yaml:"bucket_name"`
	// CredentialsFile is a service account key used by the gcs adapter.
	// Application default credentials are used when it is empty.
	CredentialsFile string `yaml:"credentials_file"`
	// BaseDir is the root directory of the local adapter.
	BaseDir string `yaml:"base_dir"`
}
