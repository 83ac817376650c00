package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// snapshots flags self-owned snapshots restorable by every account.
func (r *ec2Run) snapshots(ctx context.Context) (int, error) {
	owned, err := r.listSnapshots(ctx, &ec2.DescribeSnapshotsInput{OwnerIds: []string{"self"}})
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	if len(owned) == 0 {
		return 0, nil
	}

	public, err := r.listSnapshots(ctx, &ec2.DescribeSnapshotsInput{
		OwnerIds:            []string{"self"},
		RestorableByUserIds: []string{"all"},
	})
	if err != nil {
		return len(owned), fmt.Errorf("list public snapshots: %w", err)
	}

	for _, snap := range public {
		id := deref(snap.SnapshotId)
		if r.cfg.Exclude.ShouldExclude(id, ec2TagsToMap(snap.Tags)) {
			continue
		}
		r.rec.Record(r.region, id, "SnapshotPublic", map[string]any{
			"volumeId": deref(snap.VolumeId),
			"sizeGiB":  derefInt32(snap.VolumeSize),
		})
	}
	return len(owned), nil
}

func (r *ec2Run) listSnapshots(ctx context.Context, input *ec2.DescribeSnapshotsInput) ([]ec2types.Snapshot, error) {
	var snapshots []ec2types.Snapshot
	paginator := ec2.NewDescribeSnapshotsPaginator(r.api, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, page.Snapshots...)
	}
	return snapshots, nil
}
