// Package runtimeprobe detects the execution environment the supervisor is
// running in (container, orchestrator, serverless, CI) and returns a
// descriptor map attached to the TaskExecution.
//
// EC2 instance-metadata access goes through
// github.com/aws/aws-sdk-go-v2/feature/ec2/imds; the other detectors are
// plain environment-variable or filesystem marker checks.
package runtimeprobe

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"go.uber.org/zap"
)

// Descriptor is the runtime-metadata map attached to a TaskExecution.
type Descriptor map[string]any

// Source is implemented by a single environment detector. Detect returns
// (nil, false) when the environment marker is not present.
type Source interface {
	Name() string
	Detect(ctx context.Context) (Descriptor, bool)
}

// Probe runs a fixed, ordered set of Sources and merges their results.
// Later sources in the list take precedence on key collision, the same
// later-wins rule the Config Resolver applies to its own merges.
type Probe struct {
	logger  *zap.Logger
	sources []Source
	// staticOverride, if non-nil, is returned verbatim by Detect without
	// running any source; set through WithStaticDescriptor.
	staticOverride Descriptor
}

// New returns a Probe with the standard detector set: container
// (/.dockerenv marker), Kubernetes (service-account token), AWS Lambda (env vars), CI
// (env vars), and EC2 (IMDS, best-effort with a short timeout so it never
// stalls a non-EC2 invocation).
func New(logger *zap.Logger) *Probe {
	return &Probe{
		logger: logger,
		sources: []Source{
			containerSource{},
			kubernetesSource{},
			lambdaSource{},
			ciSource{},
			ec2Source{client: imds.New(imds.Options{})},
		},
	}
}

// WithStaticDescriptor pins Detect to always return d, skipping probing.
func (p *Probe) WithStaticDescriptor(d Descriptor) *Probe {
	p.staticOverride = d
	return p
}

// IsStatic reports whether this Probe was pinned via WithStaticDescriptor,
// which gates whether the periodic refresh ticker in the Supervisor is
// started at all.
func (p *Probe) IsStatic() bool {
	return p.staticOverride != nil
}

// Detect runs every source and merges the results. A source that reports
// no result is skipped without logging rather than propagated as an
// error: a missing/unavailable runtime descriptor is never fatal to the
// supervised task.
func (p *Probe) Detect(ctx context.Context) Descriptor {
	if p.staticOverride != nil {
		return p.staticOverride
	}

	out := Descriptor{}
	for _, s := range p.sources {
		d, ok := s.Detect(ctx)
		if !ok {
			continue
		}
		for k, v := range d {
			out[k] = v
		}
	}
	return out
}

type containerSource struct{}

func (containerSource) Name() string { return "container" }

func (containerSource) Detect(context.Context) (Descriptor, bool) {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return Descriptor{"container_runtime": "docker"}, true
	}
	return nil, false
}

type kubernetesSource struct{}

func (kubernetesSource) Name() string { return "kubernetes" }

func (kubernetesSource) Detect(context.Context) (Descriptor, bool) {
	if _, err := os.Stat("/var/run/secrets/kubernetes.io/serviceaccount/token"); err != nil {
		return nil, false
	}
	d := Descriptor{"orchestrator": "kubernetes"}
	if ns, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace"); err == nil {
		d["kubernetes_namespace"] = string(ns)
	}
	if host := os.Getenv("KUBERNETES_SERVICE_HOST"); host != "" {
		d["kubernetes_service_host"] = host
	}
	return d, true
}

type lambdaSource struct{}

func (lambdaSource) Name() string { return "aws_lambda" }

func (lambdaSource) Detect(context.Context) (Descriptor, bool) {
	fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	if fn == "" {
		return nil, false
	}
	return Descriptor{
		"serverless_platform": "aws_lambda",
		"function_name":        fn,
		"function_version":     os.Getenv("AWS_LAMBDA_FUNCTION_VERSION"),
		"region":               os.Getenv("AWS_REGION"),
	}, true
}

type ciSource struct{}

func (ciSource) Name() string { return "ci" }

func (ciSource) Detect(context.Context) (Descriptor, bool) {
	if os.Getenv("CI") == "" {
		return nil, false
	}
	d := Descriptor{"ci": true}
	switch {
	case os.Getenv("GITHUB_ACTIONS") != "":
		d["ci_provider"] = "github_actions"
		d["ci_run_id"] = os.Getenv("GITHUB_RUN_ID")
	case os.Getenv("GITLAB_CI") != "":
		d["ci_provider"] = "gitlab_ci"
		d["ci_run_id"] = os.Getenv("CI_JOB_ID")
	}
	return d, true
}

type ec2Source struct {
	client *imds.Client
}

func (ec2Source) Name() string { return "ec2" }

func (s ec2Source) Detect(ctx context.Context) (Descriptor, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()

	doc, err := s.client.GetInstanceIdentityDocument(probeCtx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return nil, false
	}
	return Descriptor{
		"cloud_provider":  "aws",
		"instance_id":     doc.InstanceID,
		"instance_type":   doc.InstanceType,
		"availability_zone": doc.AvailabilityZone,
		"region":          doc.Region,
	}, true
}
