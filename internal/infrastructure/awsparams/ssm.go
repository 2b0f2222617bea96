// Package awsparams provides [domain.ParameterSource] implementations:
// an SSM Parameter Store reader for real deployments and a static source
// for local or offline testing.
package awsparams

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSMSource reads deployment parameters from SSM Parameter Store. Base
// parameters live under <BasePath>/base/, per-environment overrides under
// <BasePath>/<environment>/.
type SSMSource struct {
	SSM      *ssm.Client
	BasePath string
}

func (s *SSMSource) Base(ctx context.Context) (map[string]string, error) {
	return s.fetch(ctx, path.Join(s.BasePath, "base"))
}

func (s *SSMSource) Environment(ctx context.Context, environment string) (map[string]string, error) {
	return s.fetch(ctx, path.Join(s.BasePath, environment))
}

func (s *SSMSource) fetch(ctx context.Context, prefix string) (map[string]string, error) {
	params := map[string]string{}
	paginator := ssm.NewGetParametersByPathPaginator(s.SSM, &ssm.GetParametersByPathInput{
		Path:           aws.String(prefix),
		Recursive:      aws.Bool(false),
		WithDecryption: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("read parameters under %q: %w", prefix, err)
		}
		for _, p := range page.Parameters {
			name := aws.ToString(p.Name)
			key := strings.TrimPrefix(name, prefix+"/")
			params[key] = aws.ToString(p.Value)
		}
	}
	return params, nil
}
