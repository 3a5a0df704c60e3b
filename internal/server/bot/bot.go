// Package bot routes Telegram chat traffic onto the order engine: purchase
// and renewal flows, trial requests, the active-services listing, referral
// deep links, and the operator's manual payment confirmations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/logging"
	"github.com/mamyekta/novabot/internal/server/engine"
	"github.com/mamyekta/novabot/internal/server/models"
	"github.com/mamyekta/novabot/internal/server/notify"
	"github.com/mamyekta/novabot/internal/server/payments"
)

const (
	btnBuy      = "🛍 خرید سرویس"
	btnTrial    = "🎁 دریافت تست رایگان"
	btnServices = "📊 سرویس‌های من"
	btnReferral = "👥 دعوت دوستان"
)

// API is the slice of the Telegram client the bot uses. Narrow so tests can
// run without the network.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// OrderEngine is the slice of the order engine the bot drives.
type OrderEngine interface {
	RegisterUser(ctx context.Context, user *models.User) (*models.User, error)
	Catalog() []models.Plan
	CreateOrder(ctx context.Context, userID, planID int64, parentOrderID *int64) (*models.Order, error)
	TrackMessage(ctx context.Context, orderID int64, msgRef int) error
	MatchPaymentSignal(ctx context.Context, signal models.PaymentSignal) (*models.Order, error)
	GrantTrial(ctx context.Context, userID int64) (string, error)
	ActiveServices(ctx context.Context, userID int64) ([]engine.ServiceStatus, error)
}

// CryptoPayer opens payments with the crypto processor and polls their
// status. Optional; when nil the crypto payment option is hidden.
type CryptoPayer interface {
	CreatePayment(ctx context.Context, orderID string, amount float64, currency string) (*payments.Payment, error)
	CheckPaymentStatus(ctx context.Context, paymentID string) (*payments.Payment, error)
}

// RatesSource quotes the current crypto exchange rate. Optional.
type RatesSource interface {
	GetRates(ctx context.Context) (*payments.Rates, error)
}

// Config carries the chat-facing settings.
type Config struct {
	Username       string // bot username, for referral deep links
	OperatorChatID int64
	CardNumber     string
	CardOwner      string
}

type Bot struct {
	api      API
	engine   OrderEngine
	notifier notify.Notifier
	cooldown *notify.Cooldown
	crypto   CryptoPayer
	rates    RatesSource
	cfg      Config
	logger   logging.Logger
	now      func() time.Time
}

func New(api API, eng OrderEngine, notifier notify.Notifier, cooldown *notify.Cooldown,
	crypto CryptoPayer, rates RatesSource, cfg Config, logger logging.Logger, now func() time.Time) *Bot {
	if now == nil {
		now = time.Now
	}
	return &Bot{
		api:      api,
		engine:   eng,
		notifier: notifier,
		cooldown: cooldown,
		crypto:   crypto,
		rates:    rates,
		cfg:      cfg,
		logger:   logger.With("module", "bot"),
		now:      now,
	}
}

// Run consumes updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := b.api.GetUpdatesChan(updateCfg)

	b.logger.Info(ctx, "bot update loop started")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID

	// operator confirmations bypass the cooldown
	if msg.Chat.ID == b.cfg.OperatorChatID && b.cfg.OperatorChatID != 0 {
		if b.handleOperatorMessage(ctx, msg) {
			return
		}
	}

	if b.cooldown.Hit(userID) {
		return
	}

	switch {
	case msg.IsCommand() && msg.Command() == "start":
		b.handleStart(ctx, msg)
	case msg.Text == btnBuy:
		b.sendCatalog(msg.Chat.ID, "buy", 0)
	case msg.Text == btnTrial:
		b.handleTrial(ctx, msg)
	case msg.Text == btnServices:
		b.handleServices(ctx, msg)
	case msg.Text == btnReferral:
		b.handleReferral(msg)
	default:
		b.sendMenu(msg.Chat.ID, "از منوی زیر انتخاب کنید 👇")
	}
}

// handleOperatorMessage handles the manual "ok 1,234,560" confirmation and
// the "np <payment_id>" crypto status check. Returns true when the message
// was an operator command.
func (b *Bot) handleOperatorMessage(ctx context.Context, msg *tgbotapi.Message) bool {
	if paymentID, found := strings.CutPrefix(msg.Text, "np "); found && b.crypto != nil {
		b.checkCryptoPayment(ctx, msg.Chat.ID, strings.TrimSpace(paymentID))
		return true
	}

	signal, ok := payments.ParseOperatorConfirm(msg.Text, b.now())
	if !ok {
		return false
	}

	order, err := b.engine.MatchPaymentSignal(ctx, *signal)
	switch {
	case err == nil:
		b.reply(msg.Chat.ID, fmt.Sprintf("✅ سفارش %d تایید شد.", order.ID))
	case errors.Is(err, common.ErrNoMatch):
		b.reply(msg.Chat.ID, "❌ سفارشی با این مبلغ در انتظار پرداخت نیست.")
	case errors.Is(err, common.ErrAmbiguousMatch):
		b.reply(msg.Chat.ID, "⚠️ بیش از یک سفارش با این مبلغ وجود دارد؛ به صورت دستی بررسی کنید.")
	default:
		b.reply(msg.Chat.ID, fmt.Sprintf("⚠️ تایید ناموفق: %v", err))
	}
	return true
}

// checkCryptoPayment lets the operator verify a payment id against the
// processor when the IPN callback never arrived. A finished payment is fed
// back into amount matching like any other signal.
func (b *Bot) checkCryptoPayment(ctx context.Context, chatID int64, paymentID string) {
	payment, err := b.crypto.CheckPaymentStatus(ctx, paymentID)
	if err != nil {
		b.logger.Error(ctx, "crypto status check failed", "payment_id", paymentID, "error", err)
		b.reply(chatID, fmt.Sprintf("⚠️ استعلام پرداخت %s ناموفق: %v", paymentID, err))
		return
	}

	if payment.Status != "finished" {
		b.reply(chatID, fmt.Sprintf("وضعیت پرداخت %s: %s", paymentID, payment.Status))
		return
	}

	order, err := b.engine.MatchPaymentSignal(ctx, models.PaymentSignal{
		AmountRials:  int64(payment.PriceAmount),
		ObservedAt:   b.now(),
		Source:       models.SignalCrypto,
		RawReference: payment.PaymentID,
	})
	switch {
	case err == nil:
		b.reply(chatID, fmt.Sprintf("✅ پرداخت %s تکمیل شده؛ سفارش %d تایید شد.", paymentID, order.ID))
	case errors.Is(err, common.ErrNoMatch):
		b.reply(chatID, fmt.Sprintf("پرداخت %s تکمیل شده اما سفارش منتظری با این مبلغ نیست.", paymentID))
	default:
		b.reply(chatID, fmt.Sprintf("⚠️ تایید پرداخت %s ناموفق: %v", paymentID, err))
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	var referrer *int64
	if payload := msg.CommandArguments(); payload != "" {
		if id, err := strconv.ParseInt(strings.TrimPrefix(payload, "ref_"), 10, 64); err == nil {
			referrer = &id
		}
	}

	name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	_, err := b.engine.RegisterUser(ctx, &models.User{
		ID:          msg.From.ID,
		ChatID:      msg.Chat.ID,
		DisplayName: name,
		Handle:      msg.From.UserName,
		ReferrerID:  referrer,
	})
	if err != nil {
		b.logger.Error(ctx, "registration failed", "user_id", msg.From.ID, "error", err)
		return
	}

	b.sendMenu(msg.Chat.ID, fmt.Sprintf("سلام %s 👋\nبه ربات خوش آمدید.", name))
}

func (b *Bot) handleTrial(ctx context.Context, msg *tgbotapi.Message) {
	link, err := b.engine.GrantTrial(ctx, msg.From.ID)
	if err != nil {
		if errors.Is(err, common.ErrTrialAlreadyUsed) {
			b.reply(msg.Chat.ID, "😉 شما قبلا کانفیگ تست دریافت کرده‌اید.")
			return
		}
		b.logger.Error(ctx, "trial grant failed", "user_id", msg.From.ID, "error", err)
		b.reply(msg.Chat.ID, "⚠️ ساخت کانفیگ تست ممکن نشد؛ کمی بعد دوباره تلاش کنید.")
		return
	}

	if _, err := b.notifier.Notify(ctx, msg.Chat.ID, notify.EventTrialGranted,
		notify.Payload{"sub_link": link}); err != nil {
		b.logger.Error(ctx, "trial notification failed", "user_id", msg.From.ID, "error", err)
	}
}

func (b *Bot) handleServices(ctx context.Context, msg *tgbotapi.Message) {
	services, err := b.engine.ActiveServices(ctx, msg.From.ID)
	if err != nil {
		b.logger.Error(ctx, "listing services failed", "user_id", msg.From.ID, "error", err)
		b.reply(msg.Chat.ID, "⚠️ دریافت وضعیت سرویس‌ها ممکن نشد.")
		return
	}
	if len(services) == 0 {
		b.reply(msg.Chat.ID, "شما سرویس فعالی ندارید. 🛍 از منو خرید کنید.")
		return
	}

	for _, s := range services {
		text := renderService(s)
		reply := tgbotapi.NewMessage(msg.Chat.ID, text)
		reply.ParseMode = tgbotapi.ModeHTML
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("♻️ تمدید", fmt.Sprintf("renew:%d", s.Order.ID)),
			),
		)
		if _, err := b.api.Send(reply); err != nil {
			b.logger.Error(ctx, "service listing send failed", "error", err)
		}
	}
}

func renderService(s engine.ServiceStatus) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🛍️ <b>سرویس:</b> %d\n", s.Order.ID)
	if s.Usage != nil {
		fmt.Fprintf(&sb, "🔋 <b>باقیمانده:</b> %.2f گیگ\n", float64(s.Remaining)/(1<<30))
	}
	if s.Order.ExpireAt != nil {
		fmt.Fprintf(&sb, "📅 <b>انقضا:</b> %s\n", s.Order.ExpireAt.Format("2006-01-02"))
	}
	fmt.Fprintf(&sb, "\n♻️ <b>لینک آپدیت خودکار:</b>\n<code>%s</code>", s.SubLink)
	return sb.String()
}

func (b *Bot) handleReferral(msg *tgbotapi.Message) {
	link := fmt.Sprintf("https://t.me/%s?start=ref_%d", b.cfg.Username, msg.From.ID)
	b.reply(msg.Chat.ID, fmt.Sprintf(
		"👥 با این لینک دوستان خود را دعوت کنید و از خرید آنها اعتبار هدیه بگیرید:\n%s", link))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	defer func() {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			b.logger.Debug(ctx, "callback ack failed", "error", err)
		}
	}()

	if cb.From == nil || cb.Message == nil {
		return
	}
	if b.cooldown.Hit(cb.From.ID) {
		return
	}

	parts := strings.Split(cb.Data, ":")
	switch parts[0] {
	case "buy":
		if len(parts) != 2 {
			return
		}
		planID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return
		}
		b.placeOrder(ctx, cb.From.ID, cb.Message.Chat.ID, planID, nil)

	case "renew":
		if len(parts) != 2 {
			return
		}
		orderID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return
		}
		b.sendCatalog(cb.Message.Chat.ID, "renewplan", orderID)

	case "renewplan":
		if len(parts) != 3 {
			return
		}
		orderID, err1 := strconv.ParseInt(parts[1], 10, 64)
		planID, err2 := strconv.ParseInt(parts[2], 10, 64)
		if err1 != nil || err2 != nil {
			return
		}
		b.placeOrder(ctx, cb.From.ID, cb.Message.Chat.ID, planID, &orderID)

	case "crypto":
		if len(parts) != 3 {
			return
		}
		orderID, err1 := strconv.ParseInt(parts[1], 10, 64)
		amount, err2 := strconv.ParseInt(parts[2], 10, 64)
		if err1 != nil || err2 != nil {
			return
		}
		b.openCryptoPayment(ctx, cb.Message.Chat.ID, orderID, amount)
	}
}

// openCryptoPayment opens a processor payment keyed by the order id, so the
// processor's finished callback settles that exact order.
func (b *Bot) openCryptoPayment(ctx context.Context, chatID, orderID, amountRials int64) {
	if b.crypto == nil {
		return
	}

	payment, err := b.crypto.CreatePayment(ctx, strconv.FormatInt(orderID, 10), float64(amountRials), "irr")
	if err != nil {
		b.logger.Error(ctx, "crypto payment creation failed", "order_id", orderID, "error", err)
		b.reply(chatID, "⚠️ ایجاد پرداخت ارز دیجیتال ممکن نشد؛ از کارت به کارت استفاده کنید.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "💎 پرداخت ارز دیجیتال برای سفارش %d ایجاد شد.\n", orderID)
	fmt.Fprintf(&sb, "شناسه پرداخت: %s\n", payment.PaymentID)
	if b.rates != nil {
		if rates, rerr := b.rates.GetRates(ctx); rerr == nil && rates.TronPriceRials > 0 {
			trx := float64(amountRials)/rates.TronPriceRials + rates.TransferFee
			fmt.Fprintf(&sb, "مبلغ تقریبی: %.2f ترون\n", trx)
		} else if rerr != nil {
			b.logger.Warn(ctx, "rates quote failed", "error", rerr)
		}
	}
	sb.WriteString("پس از تکمیل پرداخت، سرویس به صورت خودکار فعال می‌شود.")
	b.reply(chatID, sb.String())
}

// placeOrder creates the order and sends the payment instructions. The
// instruction message is tracked on the order so it can be deleted once the
// order resolves.
func (b *Bot) placeOrder(ctx context.Context, userID, chatID, planID int64, parentOrderID *int64) {
	order, err := b.engine.CreateOrder(ctx, userID, planID, parentOrderID)
	if err != nil {
		b.logger.Error(ctx, "order creation failed", "user_id", userID, "plan_id", planID, "error", err)
		b.reply(chatID, "⚠️ ثبت سفارش ممکن نشد؛ کمی بعد دوباره تلاش کنید.")
		return
	}

	msgRef, err := b.notifier.Notify(ctx, chatID, notify.EventOrderCreated, notify.Payload{
		"order_id":    order.ID,
		"amount":      formatRials(order.AmountRials),
		"card_number": b.cfg.CardNumber,
		"card_owner":  b.cfg.CardOwner,
		"deadline":    order.PaymentDeadline.Format("15:04"),
	})
	if err != nil {
		b.logger.Error(ctx, "payment instructions send failed", "order_id", order.ID, "error", err)
		return
	}

	if err := b.engine.TrackMessage(ctx, order.ID, msgRef); err != nil {
		b.logger.Error(ctx, "message tracking failed", "order_id", order.ID, "error", err)
	}

	if b.crypto != nil {
		offer := tgbotapi.NewMessage(chatID, "یا با ارز دیجیتال پرداخت کنید 👇")
		offer.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("💎 پرداخت با ترون",
					fmt.Sprintf("crypto:%d:%d", order.ID, order.AmountRials)),
			),
		)
		sent, err := b.api.Send(offer)
		if err != nil {
			b.logger.Error(ctx, "crypto offer send failed", "order_id", order.ID, "error", err)
			return
		}
		if err := b.engine.TrackMessage(ctx, order.ID, sent.MessageID); err != nil {
			b.logger.Error(ctx, "message tracking failed", "order_id", order.ID, "error", err)
		}
	}
}

// sendCatalog shows the active plans. mode selects the callback verb; for
// renewals the parent order id is carried in the callback data.
func (b *Bot) sendCatalog(chatID int64, mode string, orderID int64) {
	plans := b.engine.Catalog()
	if len(plans) == 0 {
		b.reply(chatID, "در حال حاضر پلنی برای فروش موجود نیست.")
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(plans))
	for _, p := range plans {
		label := fmt.Sprintf("%s — %s تومان", p.Name, formatRials(p.PriceToman))
		var data string
		if mode == "renewplan" {
			data = fmt.Sprintf("renewplan:%d:%d", orderID, p.ID)
		} else {
			data = fmt.Sprintf("buy:%d", p.ID)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, data)))
	}

	msg := tgbotapi.NewMessage(chatID, "پلن مورد نظر را انتخاب کنید 👇")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error(context.Background(), "catalog send failed", "error", err)
	}
}

func (b *Bot) sendMenu(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnBuy),
			tgbotapi.NewKeyboardButton(btnTrial),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnServices),
			tgbotapi.NewKeyboardButton(btnReferral),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error(context.Background(), "menu send failed", "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error(context.Background(), "reply send failed", "error", err)
	}
}

// formatRials renders an amount with thousands separators, the way the
// operator types it back.
func formatRials(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var sb strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		sb.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}
