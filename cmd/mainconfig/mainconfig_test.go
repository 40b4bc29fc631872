package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
)

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "eu-west-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)

	for _, service := range []string{sqs.ServiceID, bedrockruntime.ServiceID} {
		ep, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint(service, "eu-west-1")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:4566", ep.URL)
	}
	_, err = awsCfg.EndpointResolverWithOptions.ResolveEndpoint("S3", "eu-west-1")
	assert.Error(t, err)
}
