package aws

import (
	"context"
	"errors"
	"reflect"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

type mockRegionClient struct {
	regions []string
	err     error
}

func (m *mockRegionClient) DescribeRegions(_ context.Context, _ *ec2.DescribeRegionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := &ec2.DescribeRegionsOutput{}
	for _, r := range m.regions {
		out.Regions = append(out.Regions, ec2types.Region{RegionName: awssdk.String(r)})
	}
	return out, nil
}

type mockIdentityClient struct {
	account string
	err     error
}

func (m *mockIdentityClient) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &sts.GetCallerIdentityOutput{Account: awssdk.String(m.account)}, nil
}

func TestListRegions_Sorted(t *testing.T) {
	got, err := listRegions(context.Background(), &mockRegionClient{regions: []string{"us-west-2", "eu-west-1", "us-east-1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"eu-west-1", "us-east-1", "us-west-2"}) {
		t.Fatalf("unexpected regions: %v", got)
	}
}

func TestListRegions_AccessDenied(t *testing.T) {
	_, err := listRegions(context.Background(), &mockRegionClient{err: &smithy.GenericAPIError{Code: "UnauthorizedOperation"}})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func TestAccountID(t *testing.T) {
	id, err := accountID(context.Background(), &mockIdentityClient{account: "123456789012"})
	if err != nil || id != "123456789012" {
		t.Fatalf("unexpected result %q, %v", id, err)
	}
	if _, err := accountID(context.Background(), &mockIdentityClient{}); err == nil {
		t.Fatal("expected error for empty account")
	}
}

func TestConfigForRegion(t *testing.T) {
	c := &Client{cfg: awssdk.Config{Region: "us-east-1"}}
	if got := c.ConfigForRegion("eu-west-1").Region; got != "eu-west-1" {
		t.Fatalf("expected eu-west-1, got %s", got)
	}
	if c.Config().Region != "us-east-1" {
		t.Fatal("base config must not change")
	}
}
