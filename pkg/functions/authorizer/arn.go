package authorizer

import (
	"fmt"
	"strings"
)

// MethodARN is a parsed API Gateway method ARN:
// arn:aws:execute-api:REGION:ACCOUNT:API/STAGE/METHOD/RESOURCE.
type MethodARN struct {
	Partition string
	Region    string
	Account   string
	API       string
	Stage     string
	Method    string
	Resource  string
}

// ParseMethodARN splits an API Gateway method ARN.
func ParseMethodARN(arn string) (MethodARN, error) {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" || parts[2] != "execute-api" {
		return MethodARN{}, fmt.Errorf("not an execute-api ARN: %q", arn)
	}
	path := strings.SplitN(parts[5], "/", 4)
	if len(path) < 2 || path[0] == "" || path[1] == "" {
		return MethodARN{}, fmt.Errorf("ARN has no api id and stage: %q", arn)
	}
	m := MethodARN{
		Partition: parts[1],
		Region:    parts[3],
		Account:   parts[4],
		API:       path[0],
		Stage:     path[1],
	}
	if len(path) > 2 {
		m.Method = path[2]
	}
	if len(path) > 3 {
		m.Resource = path[3]
	}
	return m, nil
}

// Base returns the ARN prefix shared by every method of the stage.
func (m MethodARN) Base() string {
	return fmt.Sprintf("arn:%s:execute-api:%s:%s:%s/%s", m.Partition, m.Region, m.Account, m.API, m.Stage)
}

// RegistryResource returns the resource pattern covering every registry path for method.
func (m MethodARN) RegistryResource(method string) string {
	return m.Base() + "/" + method + "/registry*"
}
