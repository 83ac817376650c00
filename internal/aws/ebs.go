package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/ppiankov/awsscreener/internal/pricing"
)

// volumes flags unencrypted volumes and volumes left detached for longer
// than the idle window. CreateTime stands in for the detach time.
func (r *ec2Run) volumes(ctx context.Context) (int, error) {
	var volumes []ec2types.Volume
	paginator := ec2.NewDescribeVolumesPaginator(r.api, &ec2.DescribeVolumesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list EBS volumes: %w", err)
		}
		volumes = append(volumes, page.Volumes...)
	}

	now := r.cfg.now()
	for _, vol := range volumes {
		id := deref(vol.VolumeId)
		if r.cfg.Exclude.ShouldExclude(id, ec2TagsToMap(vol.Tags)) {
			continue
		}

		if vol.Encrypted == nil || !*vol.Encrypted {
			r.rec.Record(r.region, id, "EBSNotEncrypted", false)
		}

		if vol.State != ec2types.VolumeStateAvailable || vol.CreateTime == nil {
			continue
		}
		days := int(now.Sub(*vol.CreateTime).Hours() / 24)
		if days < r.cfg.IdleDays {
			continue
		}
		volumeType := string(vol.VolumeType)
		sizeGiB := int(derefInt32(vol.Size))
		r.rec.Record(r.region, id, "EBSDetached", costValue(pricing.MonthlyEBSCost(volumeType, sizeGiB, r.region), map[string]any{
			"volumeType":   volumeType,
			"sizeGiB":      sizeGiB,
			"daysDetached": days,
		}))
	}
	return len(volumes), nil
}
