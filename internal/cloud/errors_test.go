package cloud

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "throttling is rate limited",
			err:  awserr.New("Throttling", "Rate exceeded", nil),
			want: KindRateLimited,
		},
		{
			name: "request limit is rate limited",
			err:  awserr.New("RequestLimitExceeded", "Request limit exceeded", nil),
			want: KindRateLimited,
		},
		{
			name: "missing snapshot is not found",
			err:  awserr.New("InvalidSnapshot.NotFound", "The snapshot 'snap-1' does not exist", nil),
			want: KindNotFound,
		},
		{
			name: "missing volume is not found",
			err:  awserr.New("InvalidVolume.NotFound", "The volume 'vol-1' does not exist", nil),
			want: KindNotFound,
		},
		{
			name: "auth failure is permission",
			err:  awserr.New("AuthFailure", "AWS was not able to validate the provided access credentials", nil),
			want: KindPermission,
		},
		{
			name: "unauthorized operation is permission",
			err:  awserr.New("UnauthorizedOperation", "You are not authorized to perform this operation", nil),
			want: KindPermission,
		},
		{
			name: "marketplace copy refusal",
			err:  awserr.New("InvalidRequest", "Images from AWS Marketplace cannot be copied to another AWS account.", nil),
			want: KindMarketplaceRestricted,
		},
		{
			name: "billing code copy refusal",
			err:  awserr.New("InvalidRequest", "Images with EC2 BillingProduct codes cannot be copied to another AWS account", nil),
			want: KindMarketplaceRestricted,
		},
		{
			name: "inaccessible storage",
			err:  awserr.New("InvalidRequest", "You do not have permission to access the storage of this ami.", nil),
			want: KindStorageInaccessible,
		},
		{
			name: "opt in required with marketplace text",
			err:  awserr.New("OptInRequired", "This is a Marketplace AMI", nil),
			want: KindMarketplaceRestricted,
		},
		{
			name: "incorrect instance state with marketplace text",
			err:  awserr.New("IncorrectInstanceState", "volume belongs to a marketplace image", nil),
			want: KindMarketplaceRestricted,
		},
		{
			name: "incorrect state without marketplace text",
			err:  awserr.New("IncorrectState", "resource is busy", nil),
			want: KindInvalidState,
		},
		{
			name: "unrecognized code",
			err:  awserr.New("SomeNewCode", "who knows", nil),
			want: KindUnknown,
		},
		{
			name: "plain error",
			err:  errors.New("connection reset"),
			want: KindUnknown,
		},
		{
			name: "wrapped aws error",
			err:  fmt.Errorf("failed to copy: %w", awserr.New("Throttling", "Rate exceeded", nil)),
			want: KindRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err).Kind)
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(awserr.New("Throttling", "Rate exceeded", nil)))
	assert.True(t, IsTransient(errors.New("network blip")))
	assert.False(t, IsTransient(awserr.New("InvalidSnapshot.NotFound", "gone", nil)))
	assert.False(t, IsTransient(awserr.New("UnauthorizedOperation", "no", nil)))
	assert.False(t, IsTransient(nil))
}

func TestClassifyPassesThroughTagged(t *testing.T) {
	tagged := &Error{Kind: KindStorageInaccessible, Message: "no storage access"}
	wrapped := fmt.Errorf("staging failed: %w", tagged)
	assert.Equal(t, KindStorageInaccessible, Classify(wrapped).Kind)
	assert.True(t, IsKind(wrapped, KindStorageInaccessible))
}
