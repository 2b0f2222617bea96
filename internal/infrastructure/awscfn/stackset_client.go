// Package awscfn implements [domain.StackSetClient] against the
// CloudFormation StackSet API. The stack set itself is provisioned
// outside the engine; this adapter only creates and updates instances and
// polls their operations.
package awscfn

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/google/uuid"

	"github.com/skylift/skylift-server/internal/domain"
)

// Client implements [domain.StackSetClient].
type Client struct {
	CFN *cloudformation.Client

	// StackSetName names the stack set operations run against. The
	// template reference and parameters come from each request.
	StackSetName string
}

func New(cfn *cloudformation.Client, stackSetName string) *Client {
	return &Client{CFN: cfn, StackSetName: stackSetName}
}

// CreateOrUpdate issues one operation for the (account, region) pair:
// CreateStackInstances when no instance exists there yet, otherwise
// UpdateStackSet scoped to that single pair. The returned handle is the
// CloudFormation operation id; passing our own id makes the call
// idempotent on the AWS side as well.
func (c *Client) CreateOrUpdate(ctx context.Context, in domain.StackSetInput) (string, error) {
	opID := uuid.NewString()

	_, err := c.CFN.DescribeStackInstance(ctx, &cloudformation.DescribeStackInstanceInput{
		StackSetName:         aws.String(c.StackSetName),
		StackInstanceAccount: aws.String(in.Account),
		StackInstanceRegion:  aws.String(in.Region),
	})
	var notFound *types.StackInstanceNotFoundException
	switch {
	case errors.As(err, &notFound):
		_, cerr := c.CFN.CreateStackInstances(ctx, &cloudformation.CreateStackInstancesInput{
			StackSetName:       aws.String(c.StackSetName),
			Accounts:           []string{in.Account},
			Regions:            []string{in.Region},
			OperationId:        aws.String(opID),
			ParameterOverrides: toParameters(in.Parameters),
		})
		if cerr != nil {
			return "", fmt.Errorf("create stack instance %s/%s: %w", in.Account, in.Region, cerr)
		}
	case err != nil:
		return "", fmt.Errorf("describe stack instance %s/%s: %w", in.Account, in.Region, err)
	default:
		_, uerr := c.CFN.UpdateStackSet(ctx, &cloudformation.UpdateStackSetInput{
			StackSetName: aws.String(c.StackSetName),
			Accounts:     []string{in.Account},
			Regions:      []string{in.Region},
			OperationId:  aws.String(opID),
			TemplateURL:  aws.String(in.TemplateRef),
			Parameters:   toParameters(in.Parameters),
			Capabilities: []types.Capability{
				types.CapabilityCapabilityIam,
				types.CapabilityCapabilityNamedIam,
			},
		})
		if uerr != nil {
			return "", fmt.Errorf("update stack set for %s/%s: %w", in.Account, in.Region, uerr)
		}
	}

	return opID, nil
}

// OperationStatus maps the CloudFormation operation status onto the
// domain statuses. A stopped operation reports as failed; the engine
// never stops operations itself, so a stop means outside interference.
func (c *Client) OperationStatus(ctx context.Context, ref domain.StackSetOpRef) (domain.OperationStatus, string, error) {
	out, err := c.CFN.DescribeStackSetOperation(ctx, &cloudformation.DescribeStackSetOperationInput{
		StackSetName: aws.String(c.StackSetName),
		OperationId:  aws.String(ref.Handle),
	})
	if err != nil {
		return domain.OperationInProgress, "", fmt.Errorf("describe operation %s: %w", ref.Handle, err)
	}

	op := out.StackSetOperation
	detail := aws.ToString(op.StatusReason)
	switch op.Status {
	case types.StackSetOperationStatusSucceeded:
		return domain.OperationSucceeded, "", nil
	case types.StackSetOperationStatusFailed:
		return domain.OperationFailed, detail, nil
	case types.StackSetOperationStatusStopped, types.StackSetOperationStatusStopping:
		return domain.OperationFailed, "operation stopped: " + detail, nil
	case types.StackSetOperationStatusQueued:
		return domain.OperationPending, "", nil
	default:
		return domain.OperationInProgress, "", nil
	}
}

func toParameters(params map[string]string) []types.Parameter {
	out := make([]types.Parameter, 0, len(params))
	for k, v := range params {
		out = append(out, types.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(v),
		})
	}
	return out
}
