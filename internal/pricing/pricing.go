// Package pricing estimates the monthly cost of idle AWS resources from an
// embedded on-demand price table.
package pricing

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	hoursPerMonth = 730
	defaultRegion = "us-east-1"
)

//go:embed data/prices.yaml
var pricesYAML []byte

// regionPrices maps a region to a price.
type regionPrices map[string]float64

func (p regionPrices) lookup(region string) (float64, bool) {
	if v, ok := p[region]; ok {
		return v, true
	}
	v, ok := p[defaultRegion]
	return v, ok
}

// Table is the parsed price table.
type Table struct {
	Hourly    map[string]map[string]regionPrices `yaml:"hourly"`
	Storage   map[string]map[string]regionPrices `yaml:"storage"`
	Monthly   map[string]regionPrices            `yaml:"monthly"`
	MemoryGiB map[string]float64                 `yaml:"memoryGiB"`
}

var (
	tableOnce sync.Once
	table     *Table
)

// Parse decodes a price table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse price table: %w", err)
	}
	return &t, nil
}

// Default returns the embedded price table. A broken table degrades to an
// empty one so cost estimates read as zero rather than failing a scan.
func Default() *Table {
	tableOnce.Do(func() {
		t, err := Parse(pricesYAML)
		if err != nil {
			slog.Warn("Failed to parse embedded pricing data", "error", err)
			t = &Table{}
		}
		table = t
	})
	return table
}

func (t *Table) hourly(kind, size, region string) (float64, bool) {
	return t.Hourly[kind][size].lookup(region)
}

// EC2 returns the monthly cost of an instance type, or 0 when unknown.
func (t *Table) EC2(instanceType, region string) float64 {
	h, ok := t.hourly("ec2", instanceType, region)
	if !ok {
		return 0
	}
	return h * hoursPerMonth
}

// RDS returns the monthly cost of a DB instance class. Multi-AZ doubles it.
func (t *Table) RDS(instanceClass, region string, multiAZ bool) float64 {
	h, ok := t.hourly("rds", instanceClass, region)
	if !ok {
		return 0
	}
	cost := h * hoursPerMonth
	if multiAZ {
		cost *= 2
	}
	return cost
}

// EBS returns the monthly cost of a volume of sizeGiB.
func (t *Table) EBS(volumeType string, sizeGiB int, region string) float64 {
	perGiB, ok := t.Storage["ebs"][volumeType].lookup(region)
	if !ok {
		return 0
	}
	return perGiB * float64(sizeGiB)
}

// Flat returns the monthly flat rate of kind (eip, alb, nlb).
func (t *Table) Flat(kind, region string) float64 {
	v, _ := t.Monthly[kind].lookup(region)
	return v
}

// MemoryBytes returns the memory of an RDS instance class.
func (t *Table) MemoryBytes(instanceClass string) (int64, bool) {
	gib, ok := t.MemoryGiB[instanceClass]
	if !ok {
		return 0, false
	}
	return int64(gib * 1024 * 1024 * 1024), true
}

// MonthlyEC2Cost uses the embedded table.
func MonthlyEC2Cost(instanceType, region string) float64 {
	return Default().EC2(instanceType, region)
}

// MonthlyEBSCost uses the embedded table.
func MonthlyEBSCost(volumeType string, sizeGiB int, region string) float64 {
	return Default().EBS(volumeType, sizeGiB, region)
}

// MonthlyEIPCost returns the monthly charge of an unassociated Elastic IP.
func MonthlyEIPCost(region string) float64 {
	return Default().Flat("eip", region)
}

// MonthlyLBCost returns the base monthly cost of a load balancer, excluding
// capacity unit charges. lbType is "application" or "network".
func MonthlyLBCost(lbType, region string) float64 {
	if lbType == "network" {
		return Default().Flat("nlb", region)
	}
	return Default().Flat("alb", region)
}

// MonthlyRDSCost uses the embedded table.
func MonthlyRDSCost(instanceClass, region string, multiAZ bool) float64 {
	return Default().RDS(instanceClass, region, multiAZ)
}

// RDSInstanceMemoryBytes uses the embedded table.
func RDSInstanceMemoryBytes(instanceClass string) (int64, bool) {
	return Default().MemoryBytes(instanceClass)
}
