package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniai/payments/app/models"
)

func eventPayload(t *testing.T, id, typ string, object map[string]interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"api_version": "2025-03-31.basil",
		"created":     time.Now().Unix(),
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return data
}

// completedSession is a subscription-mode session: the charge hangs off the
// first invoice and payment_intent is null.
func completedSession(sessionID string, meta map[string]string) map[string]interface{} {
	obj := map[string]interface{}{
		"id":             sessionID,
		"object":         "checkout.session",
		"mode":           "subscription",
		"customer":       "cus_123",
		"subscription":   "sub_123",
		"invoice":        "in_123",
		"payment_intent": nil,
		"amount_total":   999,
		"currency":       "usd",
		"payment_status": "paid",
		"status":         "complete",
	}
	if meta != nil {
		obj["metadata"] = meta
	}
	return obj
}

// checkout opens a session for the test customer and returns its id.
func checkout(t *testing.T, env *testEnv, cycle string) *CheckoutResult {
	t.Helper()
	res, err := env.svc.CreateCheckoutSession(context.Background(), testCustomer, CheckoutRequest{
		PlanType:     "individual",
		BillingCycle: cycle,
	})
	require.NoError(t, err)
	return res
}

func TestWebhookMissingSignature(t *testing.T) {
	env := newTestEnv(t)
	payload := eventPayload(t, "evt_1", "checkout.session.completed", completedSession("cs_1", nil))

	_, err := env.svc.HandleWebhook(context.Background(), payload, "")
	assert.Equal(t, KindMissingSignature, KindOf(err))
	assert.Equal(t, 1, env.stats.get(StatMissingSignature))
	assert.Empty(t, env.repo.events)
}

func TestWebhookInvalidSignatureChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")
	payload := eventPayload(t, "evt_1", "checkout.session.completed", completedSession(res.SessionID, nil))

	headers := map[string]string{
		"wrong secret": signedHeader(payload, "whsec_other", time.Now()),
		"garbage":      "t=1,v1=deadbeef",
		"no scheme":    "nonsense",
		"too old":      signedHeader(payload, testWebhookSecret, time.Now().Add(-10*time.Minute)),
	}
	for name, header := range headers {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.HandleWebhook(context.Background(), payload, header)
			assert.Equal(t, KindInvalidSignature, KindOf(err))
		})
	}

	assert.Empty(t, env.repo.events)
	assert.Equal(t, models.PaymentStatusPending, env.repo.transaction(res.SessionID).Status)
	assert.Equal(t, len(headers), env.stats.get(StatInvalidSignature))
}

func TestWebhookTamperedBody(t *testing.T) {
	env := newTestEnv(t)
	payload := eventPayload(t, "evt_1", "charge.refunded", map[string]interface{}{"id": "ch_1"})
	header := sign(payload)

	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] = ' '
	_, err := env.svc.HandleWebhook(context.Background(), tampered, header)
	assert.Equal(t, KindInvalidSignature, KindOf(err))
}

func TestWebhookNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.svc.Config()
	cfg.WebhookSecret = ""
	svc := NewService(cfg, env.repo, env.provider)

	payload := eventPayload(t, "evt_1", "invoice.paid", map[string]interface{}{"id": "in_1"})
	_, err := svc.HandleWebhook(context.Background(), payload, sign(payload))
	assert.Equal(t, KindNotConfigured, KindOf(err))
}

func TestWebhookMalformed(t *testing.T) {
	tests := map[string][]byte{
		"not json":   []byte(`{"id": "evt_1", "type":`),
		"missing id": []byte(`{"type":"checkout.session.completed","data":{"object":{}}}`),
		"no type":    []byte(`{"id":"evt_1","data":{"object":{}}}`),
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
			assert.Equal(t, KindMalformedPayload, KindOf(err))
			assert.Equal(t, 1, env.stats.get(StatMalformed))
			assert.Empty(t, env.repo.events)
		})
	}
}

func TestWebhookCheckoutCompleted(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")
	payload := eventPayload(t, "evt_done", "checkout.session.completed", completedSession(res.SessionID, nil))

	out, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.False(t, out.Ignored)
	assert.Equal(t, "evt_done", out.EventID)

	tx := env.repo.transaction(res.SessionID)
	assert.Equal(t, models.PaymentStatusSucceeded, tx.Status)
	assert.Equal(t, "pi_123", tx.ProviderPaymentRef)
	assert.Contains(t, env.provider.lookups, "in:in_123")

	us, err := env.repo.FindUserSubscription(context.Background(), testCustomer.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, us.Status)
	assert.Equal(t, res.PlanID, us.SubscriptionID)
	assert.Equal(t, "cus_123", us.ProviderCustomerID)
	assert.Equal(t, "sub_123", us.ProviderSubscriptionID)
	require.NotNil(t, us.CurrentPeriodEnd)
	assert.Equal(t, env.now.AddDate(0, 1, 0), *us.CurrentPeriodEnd)

	assert.Equal(t, []string{"payment.succeeded"}, env.publisher.types())
	assert.Equal(t, 1, env.stats.get(StatProcessed))
}

func TestWebhookAnnualPeriod(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "annual")
	payload := eventPayload(t, "evt_year", "checkout.session.completed", completedSession(res.SessionID, nil))

	_, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)

	us, err := env.repo.FindUserSubscription(context.Background(), testCustomer.UserID)
	require.NoError(t, err)
	assert.Equal(t, env.now.AddDate(1, 0, 0), *us.CurrentPeriodEnd)
}

func TestWebhookReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")
	payload := eventPayload(t, "evt_replay", "checkout.session.completed", completedSession(res.SessionID, nil))
	header := sign(payload)

	first, err := env.svc.HandleWebhook(context.Background(), payload, header)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	saves := env.repo.saveSubCalls

	for i := 0; i < 3; i++ {
		again, err := env.svc.HandleWebhook(context.Background(), payload, header)
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
	}

	assert.Equal(t, saves, env.repo.saveSubCalls, "replays must not touch the subscription")
	assert.Equal(t, []string{"payment.succeeded"}, env.publisher.types())
	assert.Equal(t, 3, env.stats.get(StatDuplicate))
	assert.Len(t, env.repo.events, 1)
}

func TestWebhookSecondEventForSettledSession(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")

	for _, id := range []string{"evt_a", "evt_b"} {
		payload := eventPayload(t, id, "checkout.session.completed", completedSession(res.SessionID, nil))
		_, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, env.repo.saveSubCalls)
	assert.Equal(t, []string{"payment.succeeded"}, env.publisher.types())
}

func TestWebhookReconcilesMissingTransaction(t *testing.T) {
	env := newTestEnv(t)
	meta := map[string]string{
		MetaUserID:         "42",
		MetaSubscriptionID: "2",
		MetaBillingCycle:   "monthly",
		MetaTransactionRef: "7b0e7f5e-4c8c-4a55-9d1a-0c1f3f0b6f10",
	}
	obj := completedSession("cs_orphan", meta)
	obj["amount_total"] = 1999
	payload := eventPayload(t, "evt_orphan", "checkout.session.completed", obj)

	_, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)

	tx := env.repo.transaction("cs_orphan")
	require.NotNil(t, tx)
	assert.Equal(t, models.PaymentStatusSucceeded, tx.Status)
	assert.Equal(t, uint(42), tx.UserID)
	assert.Equal(t, "19.99", tx.Amount.StringFixed(2))
	assert.Equal(t, meta[MetaTransactionRef], tx.Reference)
}

func TestWebhookUnusableSessionIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	payload := eventPayload(t, "evt_bad", "checkout.session.completed", completedSession("cs_nometa", nil))

	out, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.True(t, out.Ignored)

	ev := env.repo.events[models.BillingProviderStripe+"/evt_bad"]
	require.NotNil(t, ev)
	assert.NotNil(t, ev.ProcessedAt)
	assert.Contains(t, ev.ProcessingError, "user_id")
}

func TestWebhookUnknownEventIgnored(t *testing.T) {
	env := newTestEnv(t)
	payload := eventPayload(t, "evt_other", "customer.created", map[string]interface{}{"id": "cus_1"})

	out, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Equal(t, 1, env.stats.get(StatIgnored))
	assert.Len(t, env.repo.events, 1)
}

func TestWebhookEventStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.repo.createEventErr = errDBDown
	payload := eventPayload(t, "evt_1", "invoice.paid", map[string]interface{}{"id": "in_1"})

	_, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, 1, env.stats.get(StatFailed))
}

func TestWebhookTransientFailureAllowsRetry(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")
	payload := eventPayload(t, "evt_retry", "checkout.session.completed", completedSession(res.SessionID, nil))
	header := sign(payload)

	env.repo.saveSubErr = errDBDown
	_, err := env.svc.HandleWebhook(context.Background(), payload, header)
	require.Error(t, err)
	assert.Equal(t, models.PaymentStatusPending, env.repo.transaction(res.SessionID).Status)
	assert.Empty(t, env.repo.events, "failed event must be released")

	env.repo.saveSubErr = nil
	out, err := env.svc.HandleWebhook(context.Background(), payload, header)
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, models.PaymentStatusSucceeded, env.repo.transaction(res.SessionID).Status)
}

func TestWebhookPublishFailureDoesNotFail(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = fmt.Errorf("broker unavailable")
	res := checkout(t, env, "monthly")
	payload := eventPayload(t, "evt_pub", "checkout.session.completed", completedSession(res.SessionID, nil))

	_, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, env.repo.transaction(res.SessionID).Status)
}

func TestWebhookCheckoutExpired(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")
	payload := eventPayload(t, "evt_exp", "checkout.session.expired", map[string]interface{}{
		"id":     res.SessionID,
		"object": "checkout.session",
	})

	_, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)

	tx := env.repo.transaction(res.SessionID)
	assert.Equal(t, models.PaymentStatusFailed, tx.Status)
	assert.Equal(t, "checkout.session.expired", tx.FailureReason)
	assert.Equal(t, []string{"payment.failed"}, env.publisher.types())
}

func TestWebhookRefundAfterSuccess(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")
	done := eventPayload(t, "evt_done", "checkout.session.completed", completedSession(res.SessionID, nil))
	_, err := env.svc.HandleWebhook(context.Background(), done, sign(done))
	require.NoError(t, err)

	refund := eventPayload(t, "evt_refund", "charge.refunded", map[string]interface{}{
		"id":             "ch_1",
		"object":         "charge",
		"payment_intent": "pi_123",
		"refunded":       true,
	})
	_, err = env.svc.HandleWebhook(context.Background(), refund, sign(refund))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusRefunded, env.repo.transaction(res.SessionID).Status)
	assert.Equal(t, []string{"payment.succeeded", "payment.refunded"}, env.publisher.types())
}

func TestWebhookPaymentIntentFailed(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")
	env.repo.setPaymentRef(res.SessionID, "pi_fail")

	payload := eventPayload(t, "evt_pi", "payment_intent.payment_failed", map[string]interface{}{
		"id":                 "pi_fail",
		"object":             "payment_intent",
		"last_payment_error": map[string]interface{}{"message": "Your card was declined."},
	})
	_, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)

	tx := env.repo.transaction(res.SessionID)
	assert.Equal(t, models.PaymentStatusFailed, tx.Status)
	assert.Equal(t, "Your card was declined.", tx.FailureReason)
}

func TestWebhookInvoiceEvents(t *testing.T) {
	env := newTestEnv(t)
	env.repo.addSubscription(models.UserSubscription{
		UserID:                 7,
		SubscriptionID:         1,
		BillingCycle:           models.BillingCycleMonthly,
		Status:                 models.SubscriptionStatusActive,
		ProviderCustomerID:     "cus_9",
		ProviderSubscriptionID: "sub_9",
	})

	failed := eventPayload(t, "evt_inv_fail", "invoice.payment_failed", map[string]interface{}{
		"id":     "in_1",
		"object": "invoice",
		"parent": map[string]interface{}{
			"subscription_details": map[string]interface{}{"subscription": "sub_9"},
		},
	})
	_, err := env.svc.HandleWebhook(context.Background(), failed, sign(failed))
	require.NoError(t, err)

	us, err := env.repo.GetUserSubscriptionByProviderID(context.Background(), "sub_9")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, us.Status)

	paid := eventPayload(t, "evt_inv_paid", "invoice.paid", map[string]interface{}{
		"id":           "in_2",
		"object":       "invoice",
		"subscription": "sub_9",
	})
	_, err = env.svc.HandleWebhook(context.Background(), paid, sign(paid))
	require.NoError(t, err)

	us, err = env.repo.GetUserSubscriptionByProviderID(context.Background(), "sub_9")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, us.Status)
	assert.Equal(t, env.now.AddDate(0, 1, 0), *us.CurrentPeriodEnd)
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	env := newTestEnv(t)
	env.repo.addSubscription(models.UserSubscription{
		UserID:                 7,
		SubscriptionID:         1,
		BillingCycle:           models.BillingCycleMonthly,
		Status:                 models.SubscriptionStatusActive,
		ProviderSubscriptionID: "sub_del",
	})

	payload := eventPayload(t, "evt_del", "customer.subscription.deleted", map[string]interface{}{
		"id":       "sub_del",
		"object":   "subscription",
		"customer": "cus_1",
		"status":   "canceled",
	})
	_, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)

	us, err := env.repo.GetUserSubscriptionByProviderID(context.Background(), "sub_del")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, us.Status)
	assert.Equal(t, []string{"subscription.canceled"}, env.publisher.types())
}

func TestWebhookInvoiceLookupFailureAllowsRetry(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")
	payload := eventPayload(t, "evt_lookup", "checkout.session.completed", completedSession(res.SessionID, nil))
	header := sign(payload)

	env.provider.invoiceErr = newError(KindProviderUnavailable, "payment provider timed out during get invoice")
	_, err := env.svc.HandleWebhook(context.Background(), payload, header)
	assert.Equal(t, KindProviderUnavailable, KindOf(err))
	assert.Equal(t, models.PaymentStatusPending, env.repo.transaction(res.SessionID).Status)
	assert.Zero(t, env.repo.saveSubCalls)
	assert.Empty(t, env.repo.events)

	env.provider.invoiceErr = nil
	_, err = env.svc.HandleWebhook(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", env.repo.transaction(res.SessionID).ProviderPaymentRef)
}

func TestWebhookRefundMatchesInvoiceWithoutPayment(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")
	obj := completedSession(res.SessionID, nil)
	obj["invoice"] = "in_nopay"
	done := eventPayload(t, "evt_done", "checkout.session.completed", obj)
	_, err := env.svc.HandleWebhook(context.Background(), done, sign(done))
	require.NoError(t, err)
	require.Equal(t, "in_nopay", env.repo.transaction(res.SessionID).ProviderPaymentRef)

	refund := eventPayload(t, "evt_refund", "charge.refunded", map[string]interface{}{
		"id":             "ch_2",
		"object":         "charge",
		"payment_intent": "pi_unknown",
		"invoice":        "in_nopay",
		"refunded":       true,
	})
	_, err = env.svc.HandleWebhook(context.Background(), refund, sign(refund))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, env.repo.transaction(res.SessionID).Status)
}

func TestWebhookRefundWithoutPaymentReference(t *testing.T) {
	env := newTestEnv(t)
	payload := eventPayload(t, "evt_refund", "charge.refunded", map[string]interface{}{
		"id":     "ch_3",
		"object": "charge",
	})

	out, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.True(t, out.Ignored)
}

func unpaidSession(sessionID string) map[string]interface{} {
	obj := completedSession(sessionID, nil)
	obj["payment_status"] = "unpaid"
	return obj
}

func TestWebhookUnpaidSessionStaysPending(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")
	payload := eventPayload(t, "evt_unpaid", "checkout.session.completed", unpaidSession(res.SessionID))

	out, err := env.svc.HandleWebhook(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.False(t, out.Ignored)

	tx := env.repo.transaction(res.SessionID)
	assert.Equal(t, models.PaymentStatusPending, tx.Status)
	assert.Equal(t, "pi_123", tx.ProviderPaymentRef)
	assert.Zero(t, env.repo.saveSubCalls)
	assert.Empty(t, env.publisher.types())

	_, err = env.repo.FindUserSubscription(context.Background(), testCustomer.UserID)
	assert.Error(t, err)
}

func TestWebhookAsyncPaymentSucceeded(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")

	unpaid := eventPayload(t, "evt_unpaid", "checkout.session.completed", unpaidSession(res.SessionID))
	_, err := env.svc.HandleWebhook(context.Background(), unpaid, sign(unpaid))
	require.NoError(t, err)

	paid := eventPayload(t, "evt_async_ok", "checkout.session.async_payment_succeeded", completedSession(res.SessionID, nil))
	out, err := env.svc.HandleWebhook(context.Background(), paid, sign(paid))
	require.NoError(t, err)
	assert.False(t, out.Ignored)

	assert.Equal(t, models.PaymentStatusSucceeded, env.repo.transaction(res.SessionID).Status)
	us, err := env.repo.FindUserSubscription(context.Background(), testCustomer.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, us.Status)
	assert.Equal(t, []string{"payment.succeeded"}, env.publisher.types())
}

func TestWebhookAsyncPaymentFailsThroughPaymentIntent(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")

	unpaid := eventPayload(t, "evt_unpaid", "checkout.session.completed", unpaidSession(res.SessionID))
	_, err := env.svc.HandleWebhook(context.Background(), unpaid, sign(unpaid))
	require.NoError(t, err)

	failed := eventPayload(t, "evt_pi_fail", "payment_intent.payment_failed", map[string]interface{}{
		"id":                 "pi_123",
		"object":             "payment_intent",
		"last_payment_error": map[string]interface{}{"message": "The bank account could not be debited."},
	})
	_, err = env.svc.HandleWebhook(context.Background(), failed, sign(failed))
	require.NoError(t, err)

	tx := env.repo.transaction(res.SessionID)
	assert.Equal(t, models.PaymentStatusFailed, tx.Status)
	assert.Equal(t, "The bank account could not be debited.", tx.FailureReason)
	assert.Equal(t, []string{"payment.failed"}, env.publisher.types())

	// The session-level failure that follows is a no-op.
	sessionFailed := eventPayload(t, "evt_async_fail", "checkout.session.async_payment_failed", unpaidSession(res.SessionID))
	_, err = env.svc.HandleWebhook(context.Background(), sessionFailed, sign(sessionFailed))
	require.NoError(t, err)
	assert.Equal(t, []string{"payment.failed"}, env.publisher.types())
}

func TestWebhookConcurrentDeliveries(t *testing.T) {
	env := newTestEnv(t)
	res := checkout(t, env, "monthly")
	payload := eventPayload(t, "evt_race", "checkout.session.completed", completedSession(res.SessionID, nil))
	header := sign(payload)

	const n = 16
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		duplicates int
		errs       []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out, err := env.svc.HandleWebhook(context.Background(), payload, header)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if out.Duplicate {
				duplicates++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, n-1, duplicates)
	assert.Equal(t, 1, env.repo.saveSubCalls)
	assert.Equal(t, []string{"payment.succeeded"}, env.publisher.types())
	assert.Equal(t, models.PaymentStatusSucceeded, env.repo.transaction(res.SessionID).Status)
	assert.Len(t, env.repo.events, 1)
	assert.Equal(t, n-1, env.stats.get(StatDuplicate))
}

// stalledStats never answers before the caller gives up.
type stalledStats struct {
	mu        sync.Mutex
	calls     int
	deadlines []time.Duration
}

func (s *stalledStats) Incr(ctx context.Context, _ string) error {
	if dl, ok := ctx.Deadline(); ok {
		s.mu.Lock()
		s.deadlines = append(s.deadlines, time.Until(dl))
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func TestWebhookStatsAreBounded(t *testing.T) {
	env := newTestEnv(t)
	stats := &stalledStats{}
	svc := NewService(env.svc.Config(), env.repo, env.provider,
		WithStats(stats),
		WithPublisher(env.publisher),
		WithClock(func() time.Time { return env.now }),
	)
	res := checkout(t, env, "monthly")
	payload := eventPayload(t, "evt_slow", "checkout.session.completed", completedSession(res.SessionID, nil))

	start := time.Now()
	out, err := svc.HandleWebhook(context.Background(), payload, sign(payload))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, models.PaymentStatusSucceeded, env.repo.transaction(res.SessionID).Status)

	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.Equal(t, 2, stats.calls)
	require.Len(t, stats.deadlines, stats.calls)
	for _, d := range stats.deadlines {
		assert.LessOrEqual(t, d, statsTimeout)
	}
	assert.Less(t, elapsed, time.Duration(stats.calls)*statsTimeout+time.Second)
}
