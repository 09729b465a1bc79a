package lakehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"

	"github.com/ShayCichocki/lakeforge/internal/state"
)

// Glue job defaults.
const (
	GlueCommand = "glueetl"
	GlueVersion = "4.0"
)

// ErrGlueNotConfigured is returned when no Glue client is available.
var ErrGlueNotConfigured = errors.New("aws glue is not configured: set aws.region")

// GlueAPI is the part of the Glue client create_glue_job uses.
type GlueAPI interface {
	CreateJob(ctx context.Context, in *glue.CreateJobInput, optFns ...func(*glue.Options)) (*glue.CreateJobOutput, error)
	StartJobRun(ctx context.Context, in *glue.StartJobRunInput, optFns ...func(*glue.Options)) (*glue.StartJobRunOutput, error)
}

// NewGlueClient loads the default AWS configuration for region and profile.
func NewGlueClient(ctx context.Context, region, profile string) (*glue.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return glue.NewFromConfig(cfg), nil
}

type glueJobArgs struct {
	JobName          string `json:"job_name" jsonschema_description:"Glue job name"`
	ScriptLocation   string `json:"script_location" jsonschema_description:"s3:// URI of the job script"`
	Role             string `json:"role,omitempty" jsonschema:"default=AWSGlueServiceRole"`
	StartImmediately bool   `json:"start_immediately,omitempty" jsonschema:"default=false"`
}

type glueJobResult struct {
	Status   string `json:"status"`
	JobName  string `json:"job_name"`
	Role     string `json:"role"`
	Started  bool   `json:"started"`
	JobRunID string `json:"job_run_id,omitempty"`
}

func (k *Toolkit) createGlueJob(ctx context.Context, in glueJobArgs) (any, error) {
	if k.env.Glue == nil {
		return nil, ErrGlueNotConfigured
	}
	if in.JobName == "" {
		return nil, fmt.Errorf("job_name is required")
	}
	if !strings.HasPrefix(in.ScriptLocation, "s3://") {
		return nil, fmt.Errorf("script_location must be an s3:// URI, got %q", in.ScriptLocation)
	}
	role := in.Role
	if role == "" {
		role = k.env.GlueRole
	}

	res := &glueJobResult{Status: "created", JobName: in.JobName, Role: role}
	_, err := k.env.Glue.CreateJob(ctx, &glue.CreateJobInput{
		Name: aws.String(in.JobName),
		Role: aws.String(role),
		Command: &types.JobCommand{
			Name:           aws.String(GlueCommand),
			ScriptLocation: aws.String(in.ScriptLocation),
			PythonVersion:  aws.String("3"),
		},
		GlueVersion: aws.String(GlueVersion),
	})
	var exists *types.AlreadyExistsException
	switch {
	case errors.As(err, &exists):
		res.Status = "exists"
	case err != nil:
		return nil, fmt.Errorf("create glue job %s: %w", in.JobName, err)
	}

	if in.StartImmediately {
		out, err := k.env.Glue.StartJobRun(ctx, &glue.StartJobRunInput{JobName: aws.String(in.JobName)})
		if err != nil {
			return nil, fmt.Errorf("start glue job %s: %w", in.JobName, err)
		}
		res.Started = true
		res.JobRunID = aws.ToString(out.JobRunId)
	}

	status := res.Status
	if res.Started {
		status = "started"
	}
	if err := k.env.Store.RecordGlueJob(&state.GlueJob{
		Name:           in.JobName,
		ScriptLocation: in.ScriptLocation,
		Role:           role,
		JobRunID:       res.JobRunID,
		Status:         status,
	}); err != nil {
		k.env.Logger.Warn().Err(err).Str("job", in.JobName).Msg("record glue job failed")
	}

	k.env.Logger.Info().Str("job", in.JobName).Str("status", status).Msg("glue job")
	return res, nil
}
