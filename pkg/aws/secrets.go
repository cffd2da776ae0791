package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsClient reads JSON key/value secrets from Secrets Manager.
type SecretsClient struct {
	client *secretsmanager.Client
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return &SecretsClient{client: secretsmanager.NewFromConfig(cfg)}
}

// GetSecretMap returns the current version of a secret stored as a flat JSON
// object. Numeric and boolean values are returned in their JSON text form, so
// {"port": 5432} yields "5432".
func (s *SecretsClient) GetSecretMap(ctx context.Context, name string) (map[string]string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     sdkaws.String(name),
		VersionStage: sdkaws.String("AWSCURRENT"),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", name)
	}
	return decodeSecretMap(name, *out.SecretString)
}

func decodeSecretMap(name, raw string) (map[string]string, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object: %w", name, err)
	}

	values := make(map[string]string, len(fields))
	for k, v := range fields {
		switch tv := v.(type) {
		case string:
			values[k] = tv
		case float64:
			values[k] = strconv.FormatFloat(tv, 'f', -1, 64)
		case bool:
			values[k] = strconv.FormatBool(tv)
		case nil:
		default:
			return nil, fmt.Errorf("secret %s: field %q is not a scalar", name, k)
		}
	}
	return values, nil
}
