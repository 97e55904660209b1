// Package cloud wraps the AWS control and data APIs behind a single
// interface so the pipeline can be driven against a mock in tests.
package cloud

import (
	"context"
	"fmt"
	"strings"
)

// Snapshot and volume states reported by the provider.
const (
	// SnapshotStateCompleted means the snapshot data is durable
	SnapshotStateCompleted = "completed"
	// VolumeStateAvailable means the volume is ready to attach
	VolumeStateAvailable = "available"
	// InstanceStateRunning means the instance is live
	InstanceStateRunning = "running"
)

// Instance is a describe-call view of an EC2 instance.
type Instance struct {
	ID       string
	ImageID  string
	Type     string
	SubnetID string
	State    string
}

// Image is a describe-call view of an AMI.
type Image struct {
	ID       string
	Name     string
	OwnerID  string
	Public   bool
	Platform string
	Tags     map[string]string
}

// Snapshot is a describe-call view of an EBS snapshot.
type Snapshot struct {
	ID        string
	OwnerID   string
	State     string
	Encrypted bool
}

// GroupState is a point-in-time snapshot of the elastic compute group,
// queried fresh each scaler cycle and passed into pure decision code.
type GroupState struct {
	Name            string
	MinSize         int64
	MaxSize         int64
	DesiredCapacity int64
	InstanceIDs     []string
}

// IsScaledDown reports whether the group is fully at zero capacity.
func (g GroupState) IsScaledDown() bool {
	return g.MinSize == 0 && g.MaxSize == 0 && g.DesiredCapacity == 0 &&
		len(g.InstanceIDs) == 0
}

// TypeDefinition is one instance-type catalog entry from the pricing API.
type TypeDefinition struct {
	InstanceType string
	Memory       float64
	VCPU         int
}

// ScanTask describes the inspection container job to register and launch.
type ScanTask struct {
	Family  string
	Image   string
	Command []string
	Env     map[string]string
}

// API is the provider boundary for everything outside SQS. Customer-account
// operations take the account role ARN and region; the remaining operations
// run in the scanning account.
type API interface {
	// VerifyPermissions checks that the customer role can still be assumed
	// and used. A permission-kind error means the account must be disabled.
	VerifyPermissions(ctx context.Context, roleARN string) error

	// DescribeAccountInstances lists all instances in the customer account,
	// keyed by region.
	DescribeAccountInstances(ctx context.Context, roleARN string) (map[string][]Instance, error)

	// DescribeInstances describes specific instances in one region, keyed by
	// instance id. Unknown ids are simply absent from the result.
	DescribeInstances(ctx context.Context, roleARN, region string, instanceIDs []string) (map[string]Instance, error)

	// DescribeImages describes specific images in one region. Unknown ids are
	// simply absent from the result.
	DescribeImages(ctx context.Context, roleARN, region string, imageIDs []string) ([]Image, error)

	// GetImage describes a single image. Returns a not-found kind error if
	// the image does not exist or is not visible.
	GetImage(ctx context.Context, roleARN, region, imageID string) (*Image, error)

	// GetImageSnapshotID returns the id of the image's root device snapshot.
	GetImageSnapshotID(ctx context.Context, roleARN, region, imageID string) (string, error)

	// GetSnapshot describes a single snapshot in the customer account.
	GetSnapshot(ctx context.Context, roleARN, region, snapshotID string) (*Snapshot, error)

	// CopyImage copies an image within the customer account and returns the
	// new image id.
	CopyImage(ctx context.Context, roleARN, region, imageID, name string) (string, error)

	// AddSnapshotGrant grants the scanning account volume access to a
	// customer snapshot.
	AddSnapshotGrant(ctx context.Context, roleARN, region, snapshotID string) error

	// RemoveSnapshotGrant removes the scanning account's access again.
	RemoveSnapshotGrant(ctx context.Context, roleARN, region, snapshotID string) error

	// CopySnapshot copies a shared customer snapshot into the scanning
	// account and returns the copy's id.
	CopySnapshot(ctx context.Context, snapshotID, sourceRegion string) (string, error)

	// WaitSnapshotCompleted blocks until the scanning-account snapshot copy
	// reports a completed state.
	WaitSnapshotCompleted(ctx context.Context, snapshotID string) error

	// DeleteSnapshot deletes a snapshot copy in the scanning account.
	DeleteSnapshot(ctx context.Context, snapshotID string) error

	// CreateVolume creates a volume from a snapshot copy in the given zone.
	CreateVolume(ctx context.Context, snapshotID, zone string) (string, error)

	// WaitVolumeAvailable blocks until the volume reports an available state.
	WaitVolumeAvailable(ctx context.Context, volumeID string) error

	// AttachVolume attaches a volume to the inspection host at a device path.
	AttachVolume(ctx context.Context, volumeID, instanceID, device string) error

	// SetVolumeAutoDelete flags the device to delete with its host.
	SetVolumeAutoDelete(ctx context.Context, instanceID, device string) error

	// DeleteVolume deletes a volume in the scanning account.
	DeleteVolume(ctx context.Context, volumeID string) error

	// GetInstanceState returns the state of a scanning-account instance.
	GetInstanceState(ctx context.Context, instanceID string) (string, error)

	// DescribeScalingGroup returns the current elastic compute group state.
	DescribeScalingGroup(ctx context.Context, name string) (*GroupState, error)

	// SetGroupCapacity sets min, max and desired capacity to size.
	SetGroupCapacity(ctx context.Context, name string, size int64) error

	// ListClusterHosts returns the EC2 instance ids backing the inspection
	// cluster's container instances.
	ListClusterHosts(ctx context.Context, cluster string) ([]string, error)

	// RegisterScanTask registers a scan task definition and returns its ARN.
	RegisterScanTask(ctx context.Context, task ScanTask) (string, error)

	// RunScanTask launches a registered scan task on the cluster.
	RunScanTask(ctx context.Context, cluster, taskDefinitionARN string) error

	// GetObject fetches an externally stored log object.
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	// InstanceTypeDefinitions fetches the instance-type catalog from the
	// pricing API, keyed by type name.
	InstanceTypeDefinitions(ctx context.Context) (map[string]TypeDefinition, error)
}

// AccountIDFromARN pulls the 12-digit account id out of a role ARN. Falls
// back to the whole string for test fixtures that are not real ARNs.
func AccountIDFromARN(roleARN string) string {
	parts := strings.Split(roleARN, ":")
	if len(parts) > 4 && parts[4] != "" {
		return parts[4]
	}
	return roleARN
}

// RegionFromZone derives the region name from an availability zone name,
// e.g. "us-east-1a" becomes "us-east-1".
func RegionFromZone(zone string) string {
	if zone == "" {
		return ""
	}
	last := zone[len(zone)-1]
	if last >= 'a' && last <= 'z' {
		return zone[:len(zone)-1]
	}
	return zone
}

// DeviceName generates the deterministic device path for the nth attached
// inspection volume. Index 0 maps to /dev/xvdba, 25 to /dev/xvdbz, 26 to
// /dev/xvdca and so on, staying clear of the host's own root device.
func DeviceName(index int) string {
	return fmt.Sprintf("/dev/xvd%c%c", 'b'+rune(index/26), 'a'+rune(index%26))
}
