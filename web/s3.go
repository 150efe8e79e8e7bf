package web

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

type s3Fetcher struct {
	client *s3.Client
}

func awsConfigPath() string {
	if path := os.Getenv("AWS_CONFIG_FILE"); path != "" {
		return path
	}

	path, err := homedir.Expand("~/.aws/config")
	if err != nil {
		return ""
	}

	return path
}

// Profiles lists the profile names of the AWS shared config file.
func Profiles(path string) ([]string, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load aws config: %s", path)
	}

	var profiles []string

	for _, section := range cfg.Sections() {
		name := section.Name()

		switch {
		case name == "default":
			profiles = append(profiles, name)
		case strings.HasPrefix(name, "profile "):
			profiles = append(profiles, strings.TrimSpace(strings.TrimPrefix(name, "profile ")))
		}
	}

	log.WithFields(log.Fields{
		"path":     path,
		"profiles": profiles,
	}).Trace("found aws profiles")

	return profiles, nil
}

func newS3Fetcher(ctx context.Context, profile string) (*s3Fetcher, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if profile != "" {
		profiles, err := Profiles(awsConfigPath())
		if err != nil {
			return nil, err
		}

		found := false
		for _, p := range profiles {
			if p == profile {
				found = true
				break
			}
		}

		if !found {
			return nil, errors.Errorf("unknown aws profile: %s", profile)
		}

		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create aws config")
	}

	return &s3Fetcher{client: s3.NewFromConfig(cfg)}, nil
}

// splitS3 splits s3://bucket/some/key into bucket and key.
func splitS3(url string) (string, string, error) {
	trimmed := strings.TrimPrefix(url, "s3://")
	if trimmed == url || trimmed == "" {
		return "", "", errors.Errorf("not an s3 url: %s", url)
	}

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 1 {
		return parts[0], "", nil
	}

	return parts[0], parts[1], nil
}

func (f *s3Fetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	bucket, key, err := splitS3(url)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3Types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, backoff.Permanent(err)
		}

		return nil, err
	}

	return out.Body, nil
}

func (f *s3Fetcher) Ping(ctx context.Context, url string) error {
	bucket, _, err := splitS3(url)
	if err != nil {
		return err
	}

	_, err = f.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})

	return err
}
