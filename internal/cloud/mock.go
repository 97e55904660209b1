package cloud

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a stateful in-memory implementation of API for testing the
// pipeline without AWS. Behavior can be scripted per operation or per
// operation+resource id via FailWith.
type Mock struct {
	mu sync.Mutex

	// Customer-side fixtures
	AccountInstances map[string]map[string][]Instance // roleARN -> region -> instances
	Images           map[string]Image                 // image id -> image
	ImageSnapshots   map[string]string                // image id -> snapshot id
	Snapshots        map[string]*Snapshot             // snapshot id -> snapshot

	// Scanning-side state
	Group        GroupState
	ClusterHosts []string
	HostStates   map[string]string // instance id -> state
	Objects      map[string][]byte // bucket/key -> content
	TypeDefs     map[string]TypeDefinition

	// Recorded effects
	GrantsAdded      []string
	GrantsRemoved    []string
	SnapshotCopies   map[string]string // copy id -> source snapshot id
	ImageCopies      map[string]string // copy id -> source image id
	Volumes          map[string]string // volume id -> source snapshot id
	DeletedSnapshots []string
	DeletedVolumes   []string
	Attachments      map[string]string // volume id -> device
	AutoDeleted      []string          // devices flagged delete-on-termination
	RegisteredTasks  []ScanTask
	RanTasks         []string
	CapacityCalls    []int64
	DescribeCalls    int

	failures map[string]error
	seq      int
}

var _ API = (*Mock)(nil)

// NewMock creates an empty mock cloud.
func NewMock() *Mock {
	return &Mock{
		AccountInstances: make(map[string]map[string][]Instance),
		Images:           make(map[string]Image),
		ImageSnapshots:   make(map[string]string),
		Snapshots:        make(map[string]*Snapshot),
		HostStates:       make(map[string]string),
		Objects:          make(map[string][]byte),
		TypeDefs:         make(map[string]TypeDefinition),
		SnapshotCopies:   make(map[string]string),
		ImageCopies:      make(map[string]string),
		Volumes:          make(map[string]string),
		Attachments:      make(map[string]string),
		failures:         make(map[string]error),
	}
}

// FailWith scripts an error for an operation. The key is either the bare
// operation name ("CopyImage") or operation plus resource id
// ("AttachVolume:vol-1").
func (m *Mock) FailWith(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = err
}

func (m *Mock) failure(op, id string) error {
	if err, ok := m.failures[op+":"+id]; ok {
		return err
	}
	return m.failures[op]
}

func (m *Mock) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%04d", prefix, m.seq)
}

// VerifyPermissions implements API.
func (m *Mock) VerifyPermissions(_ context.Context, roleARN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure("VerifyPermissions", roleARN)
}

// DescribeAccountInstances implements API.
func (m *Mock) DescribeAccountInstances(_ context.Context, roleARN string) (map[string][]Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("DescribeAccountInstances", roleARN); err != nil {
		return nil, err
	}
	found := make(map[string][]Instance)
	for region, instances := range m.AccountInstances[roleARN] {
		found[region] = append([]Instance(nil), instances...)
	}
	return found, nil
}

// DescribeInstances implements API.
func (m *Mock) DescribeInstances(_ context.Context, roleARN, region string, instanceIDs []string) (map[string]Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DescribeCalls++
	if err := m.failure("DescribeInstances", roleARN); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(instanceIDs))
	for _, id := range instanceIDs {
		wanted[id] = true
	}
	found := make(map[string]Instance)
	for _, inst := range m.AccountInstances[roleARN][region] {
		if wanted[inst.ID] {
			found[inst.ID] = inst
		}
	}
	return found, nil
}

// DescribeImages implements API.
func (m *Mock) DescribeImages(_ context.Context, roleARN, region string, imageIDs []string) ([]Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DescribeCalls++
	if err := m.failure("DescribeImages", roleARN); err != nil {
		return nil, err
	}
	var images []Image
	for _, id := range imageIDs {
		if img, ok := m.Images[id]; ok {
			images = append(images, img)
		}
	}
	return images, nil
}

// GetImage implements API.
func (m *Mock) GetImage(_ context.Context, roleARN, region, imageID string) (*Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetImage", imageID); err != nil {
		return nil, err
	}
	img, ok := m.Images[imageID]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Code: "InvalidAMIID.NotFound",
			Message: fmt.Sprintf("image %s not found", imageID)}
	}
	return &img, nil
}

// GetImageSnapshotID implements API.
func (m *Mock) GetImageSnapshotID(_ context.Context, roleARN, region, imageID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetImageSnapshotID", imageID); err != nil {
		return "", err
	}
	snapshotID, ok := m.ImageSnapshots[imageID]
	if !ok {
		return "", &Error{Kind: KindNotFound,
			Message: fmt.Sprintf("image %s has no EBS root snapshot", imageID)}
	}
	return snapshotID, nil
}

// GetSnapshot implements API.
func (m *Mock) GetSnapshot(_ context.Context, roleARN, region, snapshotID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetSnapshot", snapshotID); err != nil {
		return nil, err
	}
	snap, ok := m.Snapshots[snapshotID]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Code: "InvalidSnapshot.NotFound",
			Message: fmt.Sprintf("snapshot %s not found", snapshotID)}
	}
	copied := *snap
	return &copied, nil
}

// CopyImage implements API.
func (m *Mock) CopyImage(_ context.Context, roleARN, region, imageID, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CopyImage", imageID); err != nil {
		return "", err
	}
	source, ok := m.Images[imageID]
	if !ok {
		return "", &Error{Kind: KindNotFound, Code: "InvalidAMIID.NotFound",
			Message: fmt.Sprintf("image %s not found", imageID)}
	}
	copyID := m.nextID("ami-copy")
	copied := source
	copied.ID = copyID
	copied.Name = name
	m.Images[copyID] = copied
	m.ImageCopies[copyID] = imageID
	// The copy's snapshot is owned by the same account that ran the copy.
	if snapshotID, ok := m.ImageSnapshots[imageID]; ok {
		copySnapID := m.nextID("snap-owned")
		orig := m.Snapshots[snapshotID]
		ownedCopy := Snapshot{ID: copySnapID, State: SnapshotStateCompleted}
		if orig != nil {
			ownedCopy.Encrypted = orig.Encrypted
		}
		ownedCopy.OwnerID = AccountIDFromARN(roleARN)
		m.Snapshots[copySnapID] = &ownedCopy
		m.ImageSnapshots[copyID] = copySnapID
	}
	return copyID, nil
}

// AddSnapshotGrant implements API.
func (m *Mock) AddSnapshotGrant(_ context.Context, roleARN, region, snapshotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AddSnapshotGrant", snapshotID); err != nil {
		return err
	}
	m.GrantsAdded = append(m.GrantsAdded, snapshotID)
	return nil
}

// RemoveSnapshotGrant implements API.
func (m *Mock) RemoveSnapshotGrant(_ context.Context, roleARN, region, snapshotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("RemoveSnapshotGrant", snapshotID); err != nil {
		return err
	}
	m.GrantsRemoved = append(m.GrantsRemoved, snapshotID)
	return nil
}

// CopySnapshot implements API.
func (m *Mock) CopySnapshot(_ context.Context, snapshotID, sourceRegion string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CopySnapshot", snapshotID); err != nil {
		return "", err
	}
	copyID := m.nextID("snap-copy")
	m.SnapshotCopies[copyID] = snapshotID
	m.Snapshots[copyID] = &Snapshot{ID: copyID, State: SnapshotStateCompleted}
	return copyID, nil
}

// WaitSnapshotCompleted implements API.
func (m *Mock) WaitSnapshotCompleted(_ context.Context, snapshotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure("WaitSnapshotCompleted", snapshotID)
}

// DeleteSnapshot implements API.
func (m *Mock) DeleteSnapshot(_ context.Context, snapshotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("DeleteSnapshot", snapshotID); err != nil {
		return err
	}
	delete(m.Snapshots, snapshotID)
	m.DeletedSnapshots = append(m.DeletedSnapshots, snapshotID)
	return nil
}

// CreateVolume implements API.
func (m *Mock) CreateVolume(_ context.Context, snapshotID, zone string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreateVolume", snapshotID); err != nil {
		return "", err
	}
	volumeID := m.nextID("vol")
	m.Volumes[volumeID] = snapshotID
	return volumeID, nil
}

// WaitVolumeAvailable implements API.
func (m *Mock) WaitVolumeAvailable(_ context.Context, volumeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure("WaitVolumeAvailable", volumeID)
}

// AttachVolume implements API.
func (m *Mock) AttachVolume(_ context.Context, volumeID, instanceID, device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("AttachVolume", volumeID); err != nil {
		return err
	}
	m.Attachments[volumeID] = device
	return nil
}

// SetVolumeAutoDelete implements API.
func (m *Mock) SetVolumeAutoDelete(_ context.Context, instanceID, device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("SetVolumeAutoDelete", device); err != nil {
		return err
	}
	m.AutoDeleted = append(m.AutoDeleted, device)
	return nil
}

// DeleteVolume implements API.
func (m *Mock) DeleteVolume(_ context.Context, volumeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("DeleteVolume", volumeID); err != nil {
		return err
	}
	delete(m.Volumes, volumeID)
	m.DeletedVolumes = append(m.DeletedVolumes, volumeID)
	return nil
}

// GetInstanceState implements API.
func (m *Mock) GetInstanceState(_ context.Context, instanceID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetInstanceState", instanceID); err != nil {
		return "", err
	}
	state, ok := m.HostStates[instanceID]
	if !ok {
		return "", &Error{Kind: KindNotFound, Code: "InvalidInstanceID.NotFound",
			Message: fmt.Sprintf("instance %s not found", instanceID)}
	}
	return state, nil
}

// DescribeScalingGroup implements API.
func (m *Mock) DescribeScalingGroup(_ context.Context, name string) (*GroupState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("DescribeScalingGroup", name); err != nil {
		return nil, err
	}
	state := m.Group
	state.Name = name
	state.InstanceIDs = append([]string(nil), m.Group.InstanceIDs...)
	return &state, nil
}

// SetGroupCapacity implements API.
func (m *Mock) SetGroupCapacity(_ context.Context, name string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("SetGroupCapacity", name); err != nil {
		return err
	}
	m.CapacityCalls = append(m.CapacityCalls, size)
	m.Group.MinSize = size
	m.Group.MaxSize = size
	m.Group.DesiredCapacity = size
	return nil
}

// ListClusterHosts implements API.
func (m *Mock) ListClusterHosts(_ context.Context, cluster string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("ListClusterHosts", cluster); err != nil {
		return nil, err
	}
	return append([]string(nil), m.ClusterHosts...), nil
}

// RegisterScanTask implements API.
func (m *Mock) RegisterScanTask(_ context.Context, task ScanTask) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("RegisterScanTask", task.Family); err != nil {
		return "", err
	}
	m.RegisteredTasks = append(m.RegisteredTasks, task)
	return fmt.Sprintf("arn:aws:ecs:task-definition/%s:%d", task.Family, len(m.RegisteredTasks)), nil
}

// RunScanTask implements API.
func (m *Mock) RunScanTask(_ context.Context, cluster, taskDefinitionARN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("RunScanTask", cluster); err != nil {
		return err
	}
	m.RanTasks = append(m.RanTasks, taskDefinitionARN)
	return nil
}

// GetObject implements API.
func (m *Mock) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetObject", bucket+"/"+key); err != nil {
		return nil, err
	}
	content, ok := m.Objects[bucket+"/"+key]
	if !ok {
		return nil, &Error{Kind: KindNotFound,
			Message: fmt.Sprintf("object s3://%s/%s not found", bucket, key)}
	}
	return content, nil
}

// InstanceTypeDefinitions implements API.
func (m *Mock) InstanceTypeDefinitions(_ context.Context) (map[string]TypeDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("InstanceTypeDefinitions", ""); err != nil {
		return nil, err
	}
	defs := make(map[string]TypeDefinition, len(m.TypeDefs))
	for name, def := range m.TypeDefs {
		defs[name] = def
	}
	return defs, nil
}
