package server

import (
	"encoding/json"
	stdhttp "net/http"

	"xinyuan_tech/billing-engine/internal/conf"
	"xinyuan_tech/billing-engine/internal/errs"
	"xinyuan_tech/billing-engine/internal/service"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Bootstrap, billing *service.BillingService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
		http.ErrorEncoder(customErrorEncoder),
	}
	if c.Server.Http.Addr != "" {
		opts = append(opts, http.Address(c.Server.Http.Addr))
	}
	srv := http.NewServer(opts...)

	registerRoutes(srv, billing)

	srv.Route("/").GET("/health", func(ctx http.Context) error {
		return ctx.Result(200, map[string]string{"status": "ok", "service": "billing-engine"})
	})

	return srv
}

func registerRoutes(srv *http.Server, billing *service.BillingService) {
	r := srv.Route("/v1")

	r.GET("/plans", func(ctx http.Context) error {
		reply, err := billing.ListPlans(ctx)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.PUT("/owners", func(ctx http.Context) error {
		var req service.UpsertOwnerRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := billing.UpsertOwner(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/owners/{id}", func(ctx http.Context) error {
		reply, err := billing.GetOwner(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/owners/{id}/balance", func(ctx http.Context) error {
		reply, err := billing.GetBalance(ctx, ctx.Vars().Get("id"), ctx.Query().Get("currency"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/subscriptions", func(ctx http.Context) error {
		var req service.StartSubscriptionRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := billing.StartSubscription(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/subscriptions/{id}", func(ctx http.Context) error {
		reply, err := billing.GetSubscription(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/owners/{id}/subscriptions", func(ctx http.Context) error {
		reply, err := billing.ListSubscriptions(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/subscriptions/{id}/swap", func(ctx http.Context) error {
		var req service.SwapPlanRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.SubscriptionID = ctx.Vars().Get("id")
		reply, err := billing.SwapPlan(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/subscriptions/{id}/cancel", func(ctx http.Context) error {
		var req service.CancelSubscriptionRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.SubscriptionID = ctx.Vars().Get("id")
		reply, err := billing.CancelSubscription(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/subscriptions/{id}/resume", func(ctx http.Context) error {
		reply, err := billing.ResumeSubscription(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/subscriptions/{id}/quantity", func(ctx http.Context) error {
		var req service.UpdateQuantityRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		req.SubscriptionID = ctx.Vars().Get("id")
		reply, err := billing.UpdateQuantity(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/coupons/redeem", func(ctx http.Context) error {
		var req service.RedeemCouponRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := billing.RedeemCoupon(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/tabs/items", func(ctx http.Context) error {
		var req service.TabItemRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := billing.AddToTab(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/tabs/close", func(ctx http.Context) error {
		var req service.CloseTabRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := billing.CloseTab(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/charges", func(ctx http.Context) error {
		var req service.ChargeNowRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := billing.ChargeNow(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.GET("/orders/{id}", func(ctx http.Context) error {
		reply, err := billing.GetOrder(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	r.POST("/first-payments", func(ctx http.Context) error {
		var req service.CreateFirstPaymentRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := billing.CreateFirstPayment(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})

	// Gateways post webhook callbacks as form data with the payment id.
	r.POST("/webhooks/payments", func(ctx http.Context) error {
		id := webhookPaymentID(ctx.Request())
		if err := billing.PaymentWebhook(ctx, id); err != nil {
			return err
		}
		return ctx.Result(200, map[string]string{"status": "ok"})
	})

	r.POST("/webhooks/first-payments", func(ctx http.Context) error {
		id := webhookPaymentID(ctx.Request())
		if err := billing.FirstPaymentWebhook(ctx, id); err != nil {
			return err
		}
		return ctx.Result(200, map[string]string{"status": "ok"})
	})

	r.POST("/sweeps/run", func(ctx http.Context) error {
		reply, err := billing.RunChargeSweep(ctx)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	})
}

func webhookPaymentID(req *stdhttp.Request) string {
	if err := req.ParseForm(); err == nil {
		if id := req.PostForm.Get("id"); id != "" {
			return id
		}
	}
	return req.URL.Query().Get("id")
}

func customErrorEncoder(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	se := kerrors.FromError(err)
	status := stdhttp.StatusInternalServerError
	response := map[string]interface{}{
		"code":    status,
		"message": "internal server error",
	}

	if se != nil {
		status = mapErrorStatus(int(se.Code))
		response["code"] = se.Code
		response["reason"] = se.Reason
		response["message"] = se.Message
		if len(se.Metadata) > 0 {
			response["metadata"] = se.Metadata
		}
	} else if err != nil {
		response["message"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

func mapErrorStatus(code int) int {
	if code >= 100 && code < 600 {
		return code
	}
	switch code {
	case errs.ErrCodeInvalidMandate:
		return stdhttp.StatusPaymentRequired
	case errs.ErrCodeItemAlreadyScheduled,
		errs.ErrCodeCouponAlreadyRedeemed,
		errs.ErrCodeCouponExhausted:
		return stdhttp.StatusConflict
	}
	if code >= 140000 && code < 150000 {
		return stdhttp.StatusBadRequest
	}
	return stdhttp.StatusInternalServerError
}
