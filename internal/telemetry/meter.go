// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meter resolves the meter at call time so a provider installed after
// package init (or a test SDK) is picked up without rebinding.
func meter() metric.Meter {
	return otel.GetMeterProvider().Meter("pmomusicd")
}

// CountSOAPAction records one dispatched SOAP control action.
func CountSOAPAction(ctx context.Context, serviceType, action string, failed bool) {
	c, err := meter().Int64Counter("pmomusic_soap_actions_total",
		metric.WithDescription("SOAP control actions dispatched"))
	if err != nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(
		attribute.String(SOAPServiceKey, serviceType),
		attribute.String(SOAPActionKey, action),
		attribute.Bool("error", failed),
	))
}

// CountGENANotify records one propertyset NOTIFY attempt to a
// subscriber callback.
func CountGENANotify(ctx context.Context, failed bool) {
	c, err := meter().Int64Counter("pmomusic_gena_notifies_total",
		metric.WithDescription("GENA propertyset notifications sent"))
	if err != nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", failed)))
}

// CountCacheRead records one blob read, split by hit/miss.
func CountCacheRead(ctx context.Context, cacheName string, hit bool) {
	c, err := meter().Int64Counter("pmomusic_cache_reads_total",
		metric.WithDescription("cache blob reads"))
	if err != nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(
		attribute.String(CacheNameKey, cacheName),
		attribute.Bool("hit", hit),
	))
}
