package insights

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	bedrockruntime "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	log "github.com/sirupsen/logrus"
)

// Service answers natural-language questions over the sync_metrics table.
// One Bedrock call generates the SQL, the validator constrains it to the
// caller's shop, Athena executes it.
type Service struct {
	Bedrock BedrockClient
	Athena  AthenaClient
	Glue    GlueClient

	Database       string
	Table          string
	Workgroup      string
	OutputLocation string
	MaxLookback    int
}

// NewService wires the service from the environment. Returns nil when the
// analytics env vars are absent, which the API reports as unavailable rather
// than failing cold start.
func NewService(ctx context.Context) *Service {
	db := os.Getenv("GLUE_DATABASE")
	table := os.Getenv("SYNC_METRICS_TABLE")
	if db == "" || table == "" {
		return nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.WithError(err).Warn("insights: load aws config")
		return nil
	}

	maxLookback := 90
	if v, err := strconv.Atoi(os.Getenv("INSIGHTS_MAX_LOOKBACK_DAYS")); err == nil && v > 0 {
		maxLookback = v
	}

	return &Service{
		Bedrock:        bedrockruntime.NewFromConfig(cfg),
		Athena:         athena.NewFromConfig(cfg),
		Glue:           glue.NewFromConfig(cfg),
		Database:       db,
		Table:          table,
		Workgroup:      os.Getenv("ATHENA_WORKGROUP"),
		OutputLocation: os.Getenv("ATHENA_OUTPUT_LOCATION"),
		MaxLookback:    maxLookback,
	}
}

// Answer is the API payload for one question.
type Answer struct {
	SQL                string       `json:"sql"`
	Confidence         float64      `json:"confidence"`
	Assumptions        []string     `json:"assumptions,omitempty"`
	NeedsClarification bool         `json:"needsClarification,omitempty"`
	ClarifyingQuestion string       `json:"clarifyingQuestion,omitempty"`
	Result             *QueryResult `json:"result,omitempty"`
}

// Ask runs generate, validate, execute for one shop's question.
func (s *Service) Ask(ctx context.Context, shop, question string) (*Answer, error) {
	schema, err := loadTableSchema(ctx, s.Glue, s.Database, s.Table)
	if err != nil {
		return nil, err
	}

	todayISO := time.Now().UTC().Format("2006-01-02")
	gen, err := generateSQL(ctx, s.Bedrock, buildPrompt(promptInput{
		Question:        question,
		Shop:            shop,
		MaxDaysLookback: s.MaxLookback,
		SchemaText:      schema.promptText(),
		TodayISO:        todayISO,
	}))
	if err != nil {
		return nil, err
	}

	ans := &Answer{
		SQL:         gen.SQL,
		Confidence:  gen.Confidence,
		Assumptions: gen.Assumptions,
	}
	if gen.NeedsClarification {
		ans.NeedsClarification = true
		if gen.ClarifyingQuestion != nil {
			ans.ClarifyingQuestion = *gen.ClarifyingQuestion
		}
		return ans, nil
	}

	if err := ValidateSQL(gen.SQL, ValidateOptions{
		AllowedShopIDs:  []string{shop},
		MaxDaysLookback: s.MaxLookback,
		TodayISO:        todayISO,
	}); err != nil {
		return nil, err
	}

	res, err := runQuery(ctx, s.Athena, gen.SQL, queryOptions{
		Database:       s.Database,
		Workgroup:      s.Workgroup,
		OutputLocation: s.OutputLocation,
	})
	if err != nil {
		return nil, err
	}
	ans.Result = res
	return ans, nil
}
