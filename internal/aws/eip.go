package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/ppiankov/awsscreener/internal/pricing"
)

// addresses flags Elastic IPs with no association.
func (r *ec2Run) addresses(ctx context.Context) (int, error) {
	out, err := r.api.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return 0, fmt.Errorf("describe addresses: %w", err)
	}

	for _, addr := range out.Addresses {
		id := deref(addr.AllocationId)
		if r.cfg.Exclude.ShouldExclude(id, ec2TagsToMap(addr.Tags)) {
			continue
		}
		if addr.AssociationId != nil {
			continue
		}
		r.rec.Record(r.region, id, "EIPUnassociated", costValue(pricing.MonthlyEIPCost(r.region), map[string]any{
			"publicIp": deref(addr.PublicIp),
		}))
	}
	return len(out.Addresses), nil
}
