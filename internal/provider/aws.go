package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// AWSProvider implements Provider on top of EC2.
type AWSProvider struct {
	client *ec2.Client
}

// NewAWSProvider creates an EC2-backed provider. Empty accessKey falls back
// to the default credential chain.
func NewAWSProvider(ctx context.Context, region, accessKey, secretKey string) (*AWSProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSProvider{client: ec2.NewFromConfig(cfg)}, nil
}

// List returns a snapshot of every instance in the region, terminated ones
// included; the fleet layer filters and sorts.
func (p *AWSProvider) List(ctx context.Context) ([]Instance, error) {
	var instances []Instance

	paginator := ec2.NewDescribeInstancesPaginator(p.client, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				instances = append(instances, Instance{
					ID:       aws.ToString(inst.InstanceId),
					Name:     nameTag(inst.Tags),
					State:    mapEC2State(inst.State),
					PublicIP: aws.ToString(inst.PublicIpAddress),
					Zone:     placementZone(inst.Placement),
				})
			}
		}
	}

	return instances, nil
}

// Launch runs spec.Count new instances in one RunInstances call.
func (p *AWSProvider) Launch(ctx context.Context, spec LaunchSpec) error {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(int32(spec.Count)),
		MaxCount:     aws.Int32(int32(spec.Count)),
	}
	if spec.KeyName != "" {
		input.KeyName = aws.String(spec.KeyName)
	}
	if spec.SecurityGroup != "" {
		input.SecurityGroups = []string{spec.SecurityGroup}
	}
	if spec.NamePrefix != "" {
		input.TagSpecifications = []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("Name"), Value: aws.String(spec.NamePrefix)},
				},
			},
		}
	}

	if _, err := p.client.RunInstances(ctx, input); err != nil {
		return fmt.Errorf("failed to run instances: %w", err)
	}
	return nil
}

// Start starts stopped instances by ID.
func (p *AWSProvider) Start(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: ids})
	if err != nil {
		return fmt.Errorf("failed to start instances: %w", err)
	}
	return nil
}

// Stop stops running instances by ID.
func (p *AWSProvider) Stop(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: ids})
	if err != nil {
		return fmt.Errorf("failed to stop instances: %w", err)
	}
	return nil
}

// Terminate terminates instances by ID.
func (p *AWSProvider) Terminate(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids})
	if err != nil {
		return fmt.Errorf("failed to terminate instances: %w", err)
	}
	return nil
}

func mapEC2State(state *types.InstanceState) InstanceState {
	if state == nil {
		return StateOther
	}
	switch state.Name {
	case types.InstanceStateNamePending:
		return StatePending
	case types.InstanceStateNameRunning:
		return StateRunning
	case types.InstanceStateNameStopped:
		return StateStopped
	case types.InstanceStateNameTerminated:
		return StateTerminated
	default:
		return StateOther
	}
}

func nameTag(tags []types.Tag) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == "Name" {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}

func placementZone(placement *types.Placement) string {
	if placement == nil {
		return ""
	}
	return aws.ToString(placement.AvailabilityZone)
}
