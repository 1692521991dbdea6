package partition

import (
	"context"
	"fmt"
	"strings"

	"marketsync/logger"
)

// Catalog is the partition view of one database.
type Catalog interface {
	Database() string
	Tables(ctx context.Context) ([]string, error)
	Partitions(ctx context.Context, table string) ([]string, error)
	ProbePartition(ctx context.Context, table, partition string) error
	CreateTableDDL(ctx context.Context, table string) (string, error)
	DropPartition(ctx context.Context, table, partition string) error
}

// Finding is one corrupted partition.
type Finding struct {
	Table     string
	Partition string
	Signature string
	Error     string
}

// ScanReport summarises a read-only pass.
type ScanReport struct {
	Tables       int
	Partitions   int
	Benign       int
	ListFailures int
	Corrupted    []Finding
}

// RepairReport counts what Repair did with the corrupted partitions it was given.
type RepairReport struct {
	Dropped int
	Skipped int
	Failed  int
}

// Probe lists every partition of every table and classifies the failures.
type Probe struct {
	catalog    Catalog
	classifier *Classifier
	log        *logger.Log
}

func NewProbe(catalog Catalog, classifier *Classifier) *Probe {
	if classifier == nil {
		classifier = SignatureClassifier(nil)
	}
	return &Probe{catalog: catalog, classifier: classifier, log: logger.GetLogger()}
}

// Scan probes every partition of every table without writing anything.
// A table whose partitions cannot be listed is logged and skipped.
func (p *Probe) Scan(ctx context.Context) (ScanReport, error) {
	var report ScanReport
	log := p.log.WithComponent("partition_probe").WithFields(logger.Fields{"database": p.catalog.Database()})

	tables, err := p.catalog.Tables(ctx)
	if err != nil {
		return report, fmt.Errorf("list tables: %w", err)
	}
	report.Tables = len(tables)
	log.WithFields(logger.Fields{"tables": len(tables)}).Info("scanning tables")

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		partitions, err := p.catalog.Partitions(ctx, table)
		if err != nil {
			report.ListFailures++
			log.WithError(err).WithFields(logger.Fields{"table": table}).Warn("cannot list partitions, table skipped")
			continue
		}
		for _, part := range partitions {
			report.Partitions++
			probeErr := p.catalog.ProbePartition(ctx, table, part)
			verdict, rule := p.classifier.Classify(probeErr)
			fields := logger.Fields{"table": table, "partition": part, "verdict": verdict.String()}
			switch verdict {
			case Corrupted:
				fields["signature"] = rule.Signature
				log.WithError(probeErr).WithFields(fields).Error("corrupted partition")
				report.Corrupted = append(report.Corrupted, Finding{
					Table:     table,
					Partition: part,
					Signature: rule.Signature,
					Error:     probeErr.Error(),
				})
			case Benign:
				report.Benign++
				log.WithError(probeErr).WithFields(fields).Warn("probe failed without corruption signature")
			}
		}
	}

	log.WithFields(logger.Fields{
		"partitions": report.Partitions,
		"corrupted":  len(report.Corrupted),
		"benign":     report.Benign,
	}).Info("partition scan finished")
	log.LogMetric("partition_probe", "corrupted_partitions", int64(len(report.Corrupted)), "gauge", logger.Fields{})
	return report, nil
}

// Repair force-drops the given partitions one by one. Each table is first
// confirmed to be partitioned from its DDL; otherwise it is skipped.
func (p *Probe) Repair(ctx context.Context, findings []Finding) (RepairReport, error) {
	var report RepairReport
	log := p.log.WithComponent("partition_probe").WithFields(logger.Fields{"database": p.catalog.Database()})
	partitioned := make(map[string]bool)

	for _, f := range findings {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fields := logger.Fields{"table": f.Table, "partition": f.Partition, "signature": f.Signature, "probe_error": f.Error}

		ok, seen := partitioned[f.Table]
		if !seen {
			ddl, err := p.catalog.CreateTableDDL(ctx, f.Table)
			if err != nil {
				report.Failed++
				log.WithError(err).WithFields(fields).Error("cannot inspect table ddl, partition not dropped")
				continue
			}
			ok = IsPartitioned(ddl)
			partitioned[f.Table] = ok
		}
		if !ok {
			report.Skipped++
			log.WithFields(fields).Warn("table is not partitioned, skip drop")
			continue
		}

		if err := p.catalog.DropPartition(ctx, f.Table, f.Partition); err != nil {
			report.Failed++
			log.WithError(err).WithFields(fields).Error("drop partition failed")
			continue
		}
		report.Dropped++
		log.WithFields(fields).Warn("dropped corrupted partition")
	}
	return report, nil
}

// IsPartitioned reports whether a CREATE TABLE statement declares
// partitions.
func IsPartitioned(ddl string) bool {
	return strings.Contains(strings.ToUpper(ddl), "PARTITION BY")
}
