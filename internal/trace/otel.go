/*
 *
 * remotebrowser - a remote-debugging protocol client for Chromium and Firefox
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package trace builds the OpenTelemetry tracer provider the page and
// element operations record their spans with.
package trace

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "remotebrowser"

var (
	// ErrInvalidTracesOutput is returned for an unknown traces output.
	ErrInvalidTracesOutput = errors.New("invalid traces output")
	// ErrInvalidProto is returned for an exporter protocol other than
	// grpc or http.
	ErrInvalidProto = errors.New("invalid protocol")
	// ErrInvalidURLScheme is returned for an exporter URL that is not
	// http or https.
	ErrInvalidURLScheme = errors.New("invalid URL scheme")
	// ErrInvalidGRPCWithURLPath is returned when a grpc exporter is given
	// a URL path.
	ErrInvalidGRPCWithURLPath = errors.New("grpc protocol does not support URL path")
)

// TracerProvider is a tracer provider with a shutdown that flushes the
// pending spans.
type TracerProvider struct {
	trace.TracerProvider
	shutdown func(ctx context.Context) error
}

type params struct {
	proto    string
	endpoint string
	urlPath  string
	insecure bool
	headers  map[string]string
}

func defaultParams() params {
	return params{
		proto:    "grpc",
		endpoint: "127.0.0.1:4317",
		insecure: true,
		headers:  make(map[string]string),
	}
}

// newTracerProvider returns a provider exporting spans over OTLP.
func newTracerProvider(ctx context.Context, p params) (*TracerProvider, error) {
	client, err := newClient(p)
	if err != nil {
		return nil, fmt.Errorf("creating TracerProvider exporter client: %w", err)
	}
	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("creating TracerProvider exporter: %w", err)
	}

	prov := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)
	// Spans only go through the provider handed to the engine.
	otel.SetTracerProvider(noop.NewTracerProvider())

	return &TracerProvider{TracerProvider: prov, shutdown: prov.Shutdown}, nil
}

func newClient(p params) (otlptrace.Client, error) {
	switch p.proto {
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(p.endpoint),
			otlptracehttp.WithURLPath(p.urlPath),
			otlptracehttp.WithHeaders(p.headers),
		}
		if p.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.NewClient(opts...), nil
	case "grpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(p.endpoint),
			otlptracegrpc.WithHeaders(p.headers),
		}
		if p.insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.NewClient(opts...), nil
	default:
		return nil, ErrInvalidProto
	}
}

// NewNoopTracerProvider returns a provider that drops every span.
func NewNoopTracerProvider() *TracerProvider {
	return &TracerProvider{
		TracerProvider: noop.NewTracerProvider(),
		shutdown:       func(context.Context) error { return nil },
	}
}

// Shutdown flushes pending spans and releases the exporter. The provider
// is a no-op afterwards.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.shutdown(ctx)
}

// TracerProviderFromConfigLine returns the provider described by line,
// one of "none", "otel" or "otel=<endpoint>[,proto=grpc|http][,header.<name>=<value>]".
// An http(s) URL endpoint implies the http protocol, for example
// "otel=http://127.0.0.1:4318/v1/traces,header.Authorization=token".
func TracerProviderFromConfigLine(ctx context.Context, line string) (*TracerProvider, error) {
	if line == "" || line == "none" {
		return NewNoopTracerProvider(), nil
	}
	p, err := paramsFromConfigLine(line)
	if err != nil {
		return nil, err
	}
	return newTracerProvider(ctx, p)
}

func paramsFromConfigLine(line string) (params, error) {
	p := defaultParams()
	if line == "otel" {
		return p, nil
	}

	output, _, _ := strings.Cut(line, "=")
	if output != "otel" {
		return p, fmt.Errorf("%w %q", ErrInvalidTracesOutput, output)
	}

	for _, kv := range strings.Split(line, ",") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			return p, fmt.Errorf("key `%s` with no value", kv)
		}

		switch {
		case key == "otel":
			if err := p.parseEndpoint(value); err != nil {
				return p, fmt.Errorf("couldn't parse the otel endpoint: %w", err)
			}
		case key == "proto":
			if value != "http" && value != "grpc" {
				return p, fmt.Errorf("couldn't parse the otel proto: %w: %q", ErrInvalidProto, value)
			}
			p.proto = value
		case strings.HasPrefix(key, "header."):
			p.headers[strings.TrimPrefix(key, "header.")] = value
		default:
			return p, fmt.Errorf("unknown otel config key %s", key)
		}
	}

	if p.proto == "grpc" && p.urlPath != "" {
		return p, ErrInvalidGRPCWithURLPath
	}
	return p, nil
}

// parseEndpoint accepts a bare host:port or an http(s) URL.
func (p *params) parseEndpoint(s string) error {
	if !strings.Contains(s, "://") {
		p.endpoint = s
		return nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInvalidURLScheme, u.Scheme)
	}

	p.proto = "http"
	p.endpoint = u.Host
	p.urlPath = u.Path
	p.insecure = u.Scheme == "http"
	return nil
}
