package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

const (
	anyIPv4 = "0.0.0.0/0"
	anyIPv6 = "::/0"
)

// securityGroups flags ingress open to the internet and groups that are
// neither attached to an ENI nor referenced by another group.
func (r *ec2Run) securityGroups(ctx context.Context) (int, error) {
	groups, err := r.listSecurityGroups(ctx)
	if err != nil {
		return 0, fmt.Errorf("list security groups: %w", err)
	}
	if len(groups) == 0 {
		return 0, nil
	}

	used, err := r.usedSecurityGroups(ctx, groups)
	if err != nil {
		return len(groups), fmt.Errorf("find used security groups: %w", err)
	}

	for _, sg := range groups {
		id := deref(sg.GroupId)
		if r.cfg.Exclude.ShouldExclude(id, ec2TagsToMap(sg.Tags)) {
			continue
		}

		for _, rule := range openIngress(sg.IpPermissions) {
			r.rec.Record(r.region, id, rule, deref(sg.GroupName))
		}

		// default groups cannot be deleted
		if deref(sg.GroupName) == "default" || used[id] {
			continue
		}
		r.rec.Record(r.region, id, "SGUnused", map[string]any{
			"groupName": deref(sg.GroupName),
			"vpcId":     deref(sg.VpcId),
		})
	}
	return len(groups), nil
}

// openIngress returns the rules fired by permissions open to any address,
// each at most once, in a fixed order.
func openIngress(perms []ec2types.IpPermission) []string {
	var all, ssh, rdp bool
	for _, p := range perms {
		if !openToWorld(p) {
			continue
		}
		if deref(p.IpProtocol) == "-1" {
			all = true
			continue
		}
		ssh = ssh || coversPort(p, 22)
		rdp = rdp || coversPort(p, 3389)
	}

	var fired []string
	if all {
		fired = append(fired, "SGAllTrafficOpen")
	}
	if ssh {
		fired = append(fired, "SGOpenSSH")
	}
	if rdp {
		fired = append(fired, "SGOpenRDP")
	}
	return fired
}

func openToWorld(p ec2types.IpPermission) bool {
	for _, r := range p.IpRanges {
		if deref(r.CidrIp) == anyIPv4 {
			return true
		}
	}
	for _, r := range p.Ipv6Ranges {
		if deref(r.CidrIpv6) == anyIPv6 {
			return true
		}
	}
	return false
}

func coversPort(p ec2types.IpPermission, port int32) bool {
	if p.FromPort == nil || p.ToPort == nil {
		return false
	}
	return *p.FromPort <= port && port <= *p.ToPort
}

func (r *ec2Run) listSecurityGroups(ctx context.Context) ([]ec2types.SecurityGroup, error) {
	var groups []ec2types.SecurityGroup
	paginator := ec2.NewDescribeSecurityGroupsPaginator(r.api, &ec2.DescribeSecurityGroupsInput{})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		groups = append(groups, page.SecurityGroups...)
	}
	return groups, nil
}

// usedSecurityGroups collects groups attached to an ENI or referenced from
// another group's rules.
func (r *ec2Run) usedSecurityGroups(ctx context.Context, groups []ec2types.SecurityGroup) (map[string]bool, error) {
	used := make(map[string]bool)
	paginator := ec2.NewDescribeNetworkInterfacesPaginator(r.api, &ec2.DescribeNetworkInterfacesInput{})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, eni := range page.NetworkInterfaces {
			for _, sg := range eni.Groups {
				if sg.GroupId != nil {
					used[*sg.GroupId] = true
				}
			}
		}
	}

	for _, sg := range groups {
		for _, perms := range [][]ec2types.IpPermission{sg.IpPermissions, sg.IpPermissionsEgress} {
			for _, perm := range perms {
				for _, pair := range perm.UserIdGroupPairs {
					if pair.GroupId != nil {
						used[*pair.GroupId] = true
					}
				}
			}
		}
	}
	return used, nil
}
