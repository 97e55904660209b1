package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/pricing"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sts"

	"github.com/imagescout/imagescout/internal/logger"
)

// The pricing API is only served out of a few regions.
const pricingRegion = "us-east-1"

// AWS implements API against the real AWS SDK. Customer-account calls assume
// the account's role; everything else runs with the scanning account's own
// credentials.
type AWS struct {
	base   *session.Session
	region string

	mu       sync.Mutex
	accounts map[string]*session.Session

	onceID    sync.Once
	accountID string
	idErr     error
}

var _ API = (*AWS)(nil)

// NewAWS creates the AWS client for the scanning account's home region.
func NewAWS(region string) (*AWS, error) {
	sess, err := session.NewSession(aws.NewConfig().WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &AWS{
		base:     sess,
		region:   region,
		accounts: make(map[string]*session.Session),
	}, nil
}

// customerSession returns a cached assume-role session for the account+region.
func (a *AWS) customerSession(roleARN, region string) (*session.Session, error) {
	key := roleARN + "|" + region
	a.mu.Lock()
	defer a.mu.Unlock()
	if sess, ok := a.accounts[key]; ok {
		return sess, nil
	}
	creds := stscreds.NewCredentials(a.base, roleARN)
	sess, err := session.NewSession(aws.NewConfig().WithRegion(region).WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", roleARN, err)
	}
	a.accounts[key] = sess
	return sess, nil
}

func (a *AWS) customerEC2(roleARN, region string) (*ec2.EC2, error) {
	sess, err := a.customerSession(roleARN, region)
	if err != nil {
		return nil, err
	}
	return ec2.New(sess), nil
}

// scanningAccountID resolves and caches the scanning account's AWS id.
func (a *AWS) scanningAccountID(ctx context.Context) (string, error) {
	a.onceID.Do(func() {
		out, err := sts.New(a.base).GetCallerIdentityWithContext(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			a.idErr = fmt.Errorf("failed to resolve scanning account id: %w", err)
			return
		}
		a.accountID = aws.StringValue(out.Account)
	})
	return a.accountID, a.idErr
}

// VerifyPermissions checks the customer role by assuming it and issuing a
// harmless describe call.
func (a *AWS) VerifyPermissions(ctx context.Context, roleARN string) error {
	client, err := a.customerEC2(roleARN, a.region)
	if err != nil {
		return err
	}
	_, err = client.DescribeRegionsWithContext(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return fmt.Errorf("permission check failed for %s: %w", roleARN, err)
	}
	return nil
}

// DescribeAccountInstances lists instances in every region of the account.
func (a *AWS) DescribeAccountInstances(ctx context.Context, roleARN string) (map[string][]Instance, error) {
	client, err := a.customerEC2(roleARN, a.region)
	if err != nil {
		return nil, err
	}
	regionsOut, err := client.DescribeRegionsWithContext(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe regions: %w", err)
	}

	found := make(map[string][]Instance)
	for _, r := range regionsOut.Regions {
		region := aws.StringValue(r.RegionName)
		regional, err := a.customerEC2(roleARN, region)
		if err != nil {
			return nil, err
		}
		var instances []Instance
		err = regional.DescribeInstancesPagesWithContext(ctx, &ec2.DescribeInstancesInput{},
			func(page *ec2.DescribeInstancesOutput, _ bool) bool {
				for _, res := range page.Reservations {
					for _, inst := range res.Instances {
						instances = append(instances, convertInstance(inst))
					}
				}
				return true
			})
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances in %s: %w", region, err)
		}
		if len(instances) > 0 {
			found[region] = instances
		}
	}
	return found, nil
}

// DescribeInstances describes specific instances in one region.
func (a *AWS) DescribeInstances(ctx context.Context, roleARN, region string, instanceIDs []string) (map[string]Instance, error) {
	client, err := a.customerEC2(roleARN, region)
	if err != nil {
		return nil, err
	}
	out, err := client.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: aws.StringSlice(instanceIDs),
	})
	if err != nil {
		if IsNotFound(err) {
			// Some of the requested ids are gone; callers tolerate absence.
			return map[string]Instance{}, nil
		}
		return nil, fmt.Errorf("failed to describe instances: %w", err)
	}
	found := make(map[string]Instance)
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			converted := convertInstance(inst)
			found[converted.ID] = converted
		}
	}
	return found, nil
}

// DescribeImages describes specific images in one region.
func (a *AWS) DescribeImages(ctx context.Context, roleARN, region string, imageIDs []string) ([]Image, error) {
	client, err := a.customerEC2(roleARN, region)
	if err != nil {
		return nil, err
	}
	out, err := client.DescribeImagesWithContext(ctx, &ec2.DescribeImagesInput{
		ImageIds: aws.StringSlice(imageIDs),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe images: %w", err)
	}
	images := make([]Image, 0, len(out.Images))
	for _, img := range out.Images {
		images = append(images, convertImage(img))
	}
	return images, nil
}

// GetImage describes a single image.
func (a *AWS) GetImage(ctx context.Context, roleARN, region, imageID string) (*Image, error) {
	images, err := a.DescribeImages(ctx, roleARN, region, []string{imageID})
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, &Error{Kind: KindNotFound, Code: "InvalidAMIID.NotFound",
			Message: fmt.Sprintf("image %s not found", imageID)}
	}
	return &images[0], nil
}

// GetImageSnapshotID returns the image's root device snapshot id.
func (a *AWS) GetImageSnapshotID(ctx context.Context, roleARN, region, imageID string) (string, error) {
	client, err := a.customerEC2(roleARN, region)
	if err != nil {
		return "", err
	}
	out, err := client.DescribeImagesWithContext(ctx, &ec2.DescribeImagesInput{
		ImageIds: aws.StringSlice([]string{imageID}),
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe image %s: %w", imageID, err)
	}
	if len(out.Images) == 0 {
		return "", &Error{Kind: KindNotFound, Code: "InvalidAMIID.NotFound",
			Message: fmt.Sprintf("image %s not found", imageID)}
	}
	img := out.Images[0]
	root := aws.StringValue(img.RootDeviceName)
	for _, mapping := range img.BlockDeviceMappings {
		if mapping.Ebs == nil || mapping.Ebs.SnapshotId == nil {
			continue
		}
		if root == "" || aws.StringValue(mapping.DeviceName) == root {
			return aws.StringValue(mapping.Ebs.SnapshotId), nil
		}
	}
	return "", &Error{Kind: KindNotFound,
		Message: fmt.Sprintf("image %s has no EBS root snapshot", imageID)}
}

// GetSnapshot describes a single snapshot in the customer account.
func (a *AWS) GetSnapshot(ctx context.Context, roleARN, region, snapshotID string) (*Snapshot, error) {
	client, err := a.customerEC2(roleARN, region)
	if err != nil {
		return nil, err
	}
	out, err := client.DescribeSnapshotsWithContext(ctx, &ec2.DescribeSnapshotsInput{
		SnapshotIds: aws.StringSlice([]string{snapshotID}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe snapshot %s: %w", snapshotID, err)
	}
	if len(out.Snapshots) == 0 {
		return nil, &Error{Kind: KindNotFound, Code: "InvalidSnapshot.NotFound",
			Message: fmt.Sprintf("snapshot %s not found", snapshotID)}
	}
	snap := out.Snapshots[0]
	return &Snapshot{
		ID:        aws.StringValue(snap.SnapshotId),
		OwnerID:   aws.StringValue(snap.OwnerId),
		State:     aws.StringValue(snap.State),
		Encrypted: aws.BoolValue(snap.Encrypted),
	}, nil
}

// CopyImage copies an image within the customer account.
func (a *AWS) CopyImage(ctx context.Context, roleARN, region, imageID, name string) (string, error) {
	client, err := a.customerEC2(roleARN, region)
	if err != nil {
		return "", err
	}
	out, err := client.CopyImageWithContext(ctx, &ec2.CopyImageInput{
		Name:          aws.String(name),
		SourceImageId: aws.String(imageID),
		SourceRegion:  aws.String(region),
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy image %s: %w", imageID, err)
	}
	return aws.StringValue(out.ImageId), nil
}

// AddSnapshotGrant grants the scanning account volume access to a snapshot.
func (a *AWS) AddSnapshotGrant(ctx context.Context, roleARN, region, snapshotID string) error {
	return a.modifySnapshotGrant(ctx, roleARN, region, snapshotID, "add")
}

// RemoveSnapshotGrant removes the scanning account's snapshot access.
func (a *AWS) RemoveSnapshotGrant(ctx context.Context, roleARN, region, snapshotID string) error {
	return a.modifySnapshotGrant(ctx, roleARN, region, snapshotID, "remove")
}

func (a *AWS) modifySnapshotGrant(ctx context.Context, roleARN, region, snapshotID, op string) error {
	accountID, err := a.scanningAccountID(ctx)
	if err != nil {
		return err
	}
	client, err := a.customerEC2(roleARN, region)
	if err != nil {
		return err
	}
	_, err = client.ModifySnapshotAttributeWithContext(ctx, &ec2.ModifySnapshotAttributeInput{
		SnapshotId:    aws.String(snapshotID),
		Attribute:     aws.String("createVolumePermission"),
		OperationType: aws.String(op),
		UserIds:       aws.StringSlice([]string{accountID}),
	})
	if err != nil {
		return fmt.Errorf("failed to %s snapshot grant on %s: %w", op, snapshotID, err)
	}
	return nil
}

// CopySnapshot copies a shared snapshot into the scanning account.
func (a *AWS) CopySnapshot(ctx context.Context, snapshotID, sourceRegion string) (string, error) {
	out, err := ec2.New(a.base).CopySnapshotWithContext(ctx, &ec2.CopySnapshotInput{
		SourceSnapshotId: aws.String(snapshotID),
		SourceRegion:     aws.String(sourceRegion),
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy snapshot %s: %w", snapshotID, err)
	}
	return aws.StringValue(out.SnapshotId), nil
}

// WaitSnapshotCompleted blocks on the SDK waiter until the copy is durable.
func (a *AWS) WaitSnapshotCompleted(ctx context.Context, snapshotID string) error {
	err := ec2.New(a.base).WaitUntilSnapshotCompletedWithContext(ctx, &ec2.DescribeSnapshotsInput{
		SnapshotIds: aws.StringSlice([]string{snapshotID}),
	})
	if err != nil {
		return fmt.Errorf("waiting for snapshot %s: %w", snapshotID, err)
	}
	return nil
}

// DeleteSnapshot deletes a scanning-account snapshot.
func (a *AWS) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	_, err := ec2.New(a.base).DeleteSnapshotWithContext(ctx, &ec2.DeleteSnapshotInput{
		SnapshotId: aws.String(snapshotID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", snapshotID, err)
	}
	return nil
}

// CreateVolume creates a volume from a snapshot copy in the given zone.
func (a *AWS) CreateVolume(ctx context.Context, snapshotID, zone string) (string, error) {
	out, err := ec2.New(a.base).CreateVolumeWithContext(ctx, &ec2.CreateVolumeInput{
		SnapshotId:       aws.String(snapshotID),
		AvailabilityZone: aws.String(zone),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create volume from %s: %w", snapshotID, err)
	}
	return aws.StringValue(out.VolumeId), nil
}

// WaitVolumeAvailable blocks on the SDK waiter until the volume is ready.
func (a *AWS) WaitVolumeAvailable(ctx context.Context, volumeID string) error {
	err := ec2.New(a.base).WaitUntilVolumeAvailableWithContext(ctx, &ec2.DescribeVolumesInput{
		VolumeIds: aws.StringSlice([]string{volumeID}),
	})
	if err != nil {
		return fmt.Errorf("waiting for volume %s: %w", volumeID, err)
	}
	return nil
}

// AttachVolume attaches a volume to the inspection host.
func (a *AWS) AttachVolume(ctx context.Context, volumeID, instanceID, device string) error {
	_, err := ec2.New(a.base).AttachVolumeWithContext(ctx, &ec2.AttachVolumeInput{
		VolumeId:   aws.String(volumeID),
		InstanceId: aws.String(instanceID),
		Device:     aws.String(device),
	})
	if err != nil {
		return fmt.Errorf("failed to attach volume %s to %s: %w", volumeID, instanceID, err)
	}
	return nil
}

// SetVolumeAutoDelete flags an attached device to delete with its host.
func (a *AWS) SetVolumeAutoDelete(ctx context.Context, instanceID, device string) error {
	_, err := ec2.New(a.base).ModifyInstanceAttributeWithContext(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		BlockDeviceMappings: []*ec2.InstanceBlockDeviceMappingSpecification{
			{
				DeviceName: aws.String(device),
				Ebs: &ec2.EbsInstanceBlockDeviceSpecification{
					DeleteOnTermination: aws.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to set auto-delete on %s %s: %w", instanceID, device, err)
	}
	return nil
}

// DeleteVolume deletes a scanning-account volume.
func (a *AWS) DeleteVolume(ctx context.Context, volumeID string) error {
	_, err := ec2.New(a.base).DeleteVolumeWithContext(ctx, &ec2.DeleteVolumeInput{
		VolumeId: aws.String(volumeID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete volume %s: %w", volumeID, err)
	}
	return nil
}

// GetInstanceState returns the state of a scanning-account instance.
func (a *AWS) GetInstanceState(ctx context.Context, instanceID string) (string, error) {
	out, err := ec2.New(a.base).DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: aws.StringSlice([]string{instanceID}),
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			return aws.StringValue(inst.State.Name), nil
		}
	}
	return "", &Error{Kind: KindNotFound, Code: "InvalidInstanceID.NotFound",
		Message: fmt.Sprintf("instance %s not found", instanceID)}
}

// DescribeScalingGroup returns the elastic compute group's current state.
func (a *AWS) DescribeScalingGroup(ctx context.Context, name string) (*GroupState, error) {
	out, err := autoscaling.New(a.base).DescribeAutoScalingGroupsWithContext(ctx,
		&autoscaling.DescribeAutoScalingGroupsInput{
			AutoScalingGroupNames: aws.StringSlice([]string{name}),
		})
	if err != nil {
		return nil, fmt.Errorf("failed to describe scaling group %s: %w", name, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, &Error{Kind: KindNotFound,
			Message: fmt.Sprintf("scaling group %s not found", name)}
	}
	group := out.AutoScalingGroups[0]
	state := &GroupState{
		Name:            name,
		MinSize:         aws.Int64Value(group.MinSize),
		MaxSize:         aws.Int64Value(group.MaxSize),
		DesiredCapacity: aws.Int64Value(group.DesiredCapacity),
	}
	for _, inst := range group.Instances {
		state.InstanceIDs = append(state.InstanceIDs, aws.StringValue(inst.InstanceId))
	}
	return state, nil
}

// SetGroupCapacity sets the group's min, max and desired capacity.
func (a *AWS) SetGroupCapacity(ctx context.Context, name string, size int64) error {
	_, err := autoscaling.New(a.base).UpdateAutoScalingGroupWithContext(ctx,
		&autoscaling.UpdateAutoScalingGroupInput{
			AutoScalingGroupName: aws.String(name),
			MinSize:              aws.Int64(size),
			MaxSize:              aws.Int64(size),
			DesiredCapacity:      aws.Int64(size),
		})
	if err != nil {
		return fmt.Errorf("failed to set capacity %d on group %s: %w", size, name, err)
	}
	return nil
}

// ListClusterHosts resolves the EC2 instance ids of the cluster's container
// instances.
func (a *AWS) ListClusterHosts(ctx context.Context, cluster string) ([]string, error) {
	client := ecs.New(a.base)
	listed, err := client.ListContainerInstancesWithContext(ctx, &ecs.ListContainerInstancesInput{
		Cluster: aws.String(cluster),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list container instances: %w", err)
	}
	if len(listed.ContainerInstanceArns) == 0 {
		return nil, nil
	}
	described, err := client.DescribeContainerInstancesWithContext(ctx, &ecs.DescribeContainerInstancesInput{
		Cluster:            aws.String(cluster),
		ContainerInstances: listed.ContainerInstanceArns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe container instances: %w", err)
	}
	hosts := make([]string, 0, len(described.ContainerInstances))
	for _, ci := range described.ContainerInstances {
		hosts = append(hosts, aws.StringValue(ci.Ec2InstanceId))
	}
	return hosts, nil
}

// RegisterScanTask registers the scan container task definition.
func (a *AWS) RegisterScanTask(ctx context.Context, task ScanTask) (string, error) {
	env := make([]*ecs.KeyValuePair, 0, len(task.Env))
	for name, value := range task.Env {
		env = append(env, &ecs.KeyValuePair{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}
	out, err := ecs.New(a.base).RegisterTaskDefinitionWithContext(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(task.Family),
		RequiresCompatibilities: aws.StringSlice([]string{"EC2"}),
		ContainerDefinitions: []*ecs.ContainerDefinition{
			{
				Name:              aws.String("inspector"),
				Image:             aws.String(task.Image),
				Cpu:               aws.Int64(0),
				MemoryReservation: aws.Int64(256),
				Essential:         aws.Bool(true),
				Privileged:        aws.Bool(true),
				Command:           aws.StringSlice(task.Command),
				Environment:       env,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to register scan task: %w", err)
	}
	return aws.StringValue(out.TaskDefinition.TaskDefinitionArn), nil
}

// RunScanTask launches a registered scan task on the cluster.
func (a *AWS) RunScanTask(ctx context.Context, cluster, taskDefinitionARN string) error {
	_, err := ecs.New(a.base).RunTaskWithContext(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(cluster),
		TaskDefinition: aws.String(taskDefinitionARN),
	})
	if err != nil {
		return fmt.Errorf("failed to run scan task: %w", err)
	}
	return nil
}

// GetObject fetches an S3 object's content.
func (a *AWS) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s3.New(a.base).GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object s3://%s/%s: %w", bucket, key, err)
	}
	defer func() {
		if cerr := out.Body.Close(); cerr != nil {
			logger.Warnf("Failed to close S3 object body: %v", cerr)
		}
	}()
	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object s3://%s/%s: %w", bucket, key, err)
	}
	return content, nil
}

// InstanceTypeDefinitions fetches the instance-type catalog from the pricing
// API.
func (a *AWS) InstanceTypeDefinitions(ctx context.Context) (map[string]TypeDefinition, error) {
	client := pricing.New(a.base, aws.NewConfig().WithRegion(pricingRegion))
	input := &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters: []*pricing.Filter{
			{
				Type:  aws.String("TERM_MATCH"),
				Field: aws.String("productFamily"),
				Value: aws.String("Compute Instance"),
			},
		},
	}

	definitions := make(map[string]TypeDefinition)
	err := client.GetProductsPagesWithContext(ctx, input,
		func(page *pricing.GetProductsOutput, _ bool) bool {
			for _, product := range page.PriceList {
				def, ok := parseProduct(product)
				if !ok {
					continue
				}
				definitions[def.InstanceType] = def
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pricing catalog: %w", err)
	}
	return definitions, nil
}

// parseProduct pulls an instance type definition out of one pricing product
// document.
func parseProduct(product aws.JSONValue) (TypeDefinition, bool) {
	attrs, ok := productAttributes(product)
	if !ok {
		return TypeDefinition{}, false
	}

	name, _ := attrs["instanceType"].(string)
	if name == "" {
		return TypeDefinition{}, false
	}

	// Memory arrives formatted like "1,952.00 GiB".
	memoryStr, _ := attrs["memory"].(string)
	memoryStr = strings.TrimSuffix(memoryStr, " GiB")
	memoryStr = strings.ReplaceAll(memoryStr, ",", "")
	memory, err := strconv.ParseFloat(memoryStr, 64)
	if err != nil {
		logger.Warnf("Could not parse memory for instance type %s: %v", name, err)
		return TypeDefinition{}, false
	}

	vcpuStr, _ := attrs["vcpu"].(string)
	vcpu, err := strconv.Atoi(vcpuStr)
	if err != nil {
		logger.Warnf("Could not parse vcpu for instance type %s: %v", name, err)
		return TypeDefinition{}, false
	}

	return TypeDefinition{InstanceType: name, Memory: memory, VCPU: vcpu}, true
}

func productAttributes(product aws.JSONValue) (map[string]interface{}, bool) {
	raw, err := json.Marshal(product)
	if err != nil {
		return nil, false
	}
	var doc struct {
		Product struct {
			Attributes map[string]interface{} `json:"attributes"`
		} `json:"product"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	return doc.Product.Attributes, true
}

func convertInstance(inst *ec2.Instance) Instance {
	converted := Instance{
		ID:       aws.StringValue(inst.InstanceId),
		ImageID:  aws.StringValue(inst.ImageId),
		Type:     aws.StringValue(inst.InstanceType),
		SubnetID: aws.StringValue(inst.SubnetId),
	}
	if inst.State != nil {
		converted.State = aws.StringValue(inst.State.Name)
	}
	return converted
}

func convertImage(img *ec2.Image) Image {
	converted := Image{
		ID:       aws.StringValue(img.ImageId),
		Name:     aws.StringValue(img.Name),
		OwnerID:  aws.StringValue(img.OwnerId),
		Public:   aws.BoolValue(img.Public),
		Platform: aws.StringValue(img.Platform),
	}
	if len(img.Tags) > 0 {
		converted.Tags = make(map[string]string, len(img.Tags))
		for _, tag := range img.Tags {
			converted.Tags[aws.StringValue(tag.Key)] = aws.StringValue(tag.Value)
		}
	}
	return converted
}
