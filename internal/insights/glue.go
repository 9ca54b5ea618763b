package insights

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
)

type GlueClient interface {
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
}

type tableColumn struct {
	Name string
	Type string
}

type tableSchema struct {
	Database   string
	Table      string
	Location   string
	Columns    []tableColumn
	Partitions []tableColumn
}

func loadTableSchema(ctx context.Context, c GlueClient, database, table string) (*tableSchema, error) {
	out, err := c.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	if err != nil {
		return nil, fmt.Errorf("glue GetTable %s.%s: %w", database, table, err)
	}

	ti := out.Table
	sd := ti.StorageDescriptor
	schema := &tableSchema{
		Database: database,
		Table:    aws.ToString(ti.Name),
		Location: aws.ToString(sd.Location),
	}
	for _, col := range sd.Columns {
		schema.Columns = append(schema.Columns, tableColumn{
			Name: aws.ToString(col.Name),
			Type: aws.ToString(col.Type),
		})
	}
	for _, p := range ti.PartitionKeys {
		schema.Partitions = append(schema.Partitions, tableColumn{
			Name: aws.ToString(p.Name),
			Type: aws.ToString(p.Type),
		})
	}

	// Sorted columns keep the prompt stable across runs.
	sort.Slice(schema.Columns, func(i, j int) bool { return schema.Columns[i].Name < schema.Columns[j].Name })
	sort.Slice(schema.Partitions, func(i, j int) bool { return schema.Partitions[i].Name < schema.Partitions[j].Name })
	return schema, nil
}

func (s *tableSchema) promptText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "DATABASE %s\n", s.Database)
	fmt.Fprintf(&b, "TABLE %s (\n", s.Table)
	for i, c := range s.Columns {
		comma := ","
		if i == len(s.Columns)-1 {
			comma = ""
		}
		fmt.Fprintf(&b, "  %s %s%s\n", c.Name, c.Type, comma)
	}
	b.WriteString(")\n")
	if len(s.Partitions) > 0 {
		b.WriteString("PARTITIONED BY (")
		for i, p := range s.Partitions {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s %s", p.Name, p.Type)
		}
		b.WriteString(")\n")
	}
	if s.Location != "" {
		fmt.Fprintf(&b, "LOCATION %s\n", s.Location)
	}
	return b.String()
}
