// Package aws implements the EC2-backed worker-host launcher used by
// the fleet deployment. Each launched host bootstraps a worker binary
// that polls the shared queue; terminating the instance is the only
// teardown a host needs.
package aws

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// HostConfig describes the EC2 shape of one worker host.
type HostConfig struct {
	Region       string
	AMI          string // image with FreeCAD and the worker binary baked in
	InstanceType string
	SubnetID     string
	// Environment handed to the worker binary via user data: database
	// URL, artifact bucket, queue settings.
	WorkerEnv map[string]string
}

// Client is the AWS provider client.
type Client struct {
	ec2Client *ec2.Client
	cfg       HostConfig
}

// NewClient creates an AWS client from the default credential chain.
func NewClient(ctx context.Context, cfg HostConfig) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Client{
		ec2Client: ec2.NewFromConfig(awsCfg),
		cfg:       cfg,
	}, nil
}

// LaunchWorkerHost launches one worker host and returns its instance
// ID. The host starts draining the queue on its own once booted.
func (c *Client) LaunchWorkerHost(ctx context.Context) (string, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(c.cfg.AMI),
		InstanceType: types.InstanceType(c.cfg.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(base64.StdEncoding.EncodeToString([]byte(c.userDataScript()))),
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("Name"), Value: aws.String("cad-pipeline-worker")},
					{Key: aws.String("ManagedBy"), Value: aws.String("cad-pipeline")},
				},
			},
		},
	}
	if c.cfg.SubnetID != "" {
		input.SubnetId = aws.String(c.cfg.SubnetID)
	}

	result, err := c.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to launch worker host: %w", err)
	}
	if len(result.Instances) == 0 {
		return "", fmt.Errorf("RunInstances returned no instances")
	}
	return *result.Instances[0].InstanceId, nil
}

// TerminateWorkerHost terminates the given instance.
func (c *Client) TerminateWorkerHost(ctx context.Context, hostID string) error {
	_, err := c.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{hostID},
	})
	if err != nil {
		return fmt.Errorf("failed to terminate worker host %s: %w", hostID, err)
	}
	return nil
}

// userDataScript boots the worker binary against the shared queue.
// The AMI ships FreeCAD and /opt/cad-pipeline/cad-worker; user data
// only injects configuration.
func (c *Client) userDataScript() string {
	script := "#!/bin/bash\nset -e\n\ncat > /opt/cad-pipeline/worker.env <<'EOF'\n"
	for k, v := range c.cfg.WorkerEnv {
		script += fmt.Sprintf("%s=%s\n", k, v)
	}
	script += "EOF\n\nsystemctl restart cad-worker\n"
	return script
}
