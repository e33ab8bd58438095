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

package common

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/liuxd6825/remotebrowser"

type tracerProviderCtxKey struct{}

// WithTracerProvider attaches the provider page and element operations
// record their spans with.
func WithTracerProvider(ctx context.Context, tp trace.TracerProvider) context.Context {
	return context.WithValue(ctx, tracerProviderCtxKey{}, tp)
}

func tracerProvider(ctx context.Context) trace.TracerProvider {
	if tp, ok := ctx.Value(tracerProviderCtxKey{}).(trace.TracerProvider); ok {
		return tp
	}
	return otel.GetTracerProvider()
}

// TraceAPICall starts a span for an operation on the target targetID.
func TraceAPICall(
	ctx context.Context, targetID string, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(attribute.String("target.id", targetID)))
	return tracerProvider(ctx).Tracer(tracerName).Start(ctx, spanName, opts...)
}

// SpanRecordError marks span as failed with err and returns err.
func SpanRecordError(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	return err
}

// SpanRecordErrorf formats an error, records it on span and returns it.
func SpanRecordErrorf(span trace.Span, format string, args ...any) error {
	return SpanRecordError(span, fmt.Errorf(format, args...))
}
