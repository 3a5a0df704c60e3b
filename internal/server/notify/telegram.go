package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier renders events into Telegram messages.
type TelegramNotifier struct {
	bot *tgbotapi.BotAPI
}

func NewTelegramNotifier(bot *tgbotapi.BotAPI) *TelegramNotifier {
	return &TelegramNotifier{bot: bot}
}

func (n *TelegramNotifier) Notify(ctx context.Context, chatID int64, event Event, payload Payload) (int, error) {
	msg := tgbotapi.NewMessage(chatID, renderEvent(event, payload))
	msg.ParseMode = tgbotapi.ModeHTML

	sent, err := n.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("telegram send: %w", err)
	}
	return sent.MessageID, nil
}

func (n *TelegramNotifier) DeleteMessage(ctx context.Context, chatID int64, msgRef int) error {
	_, err := n.bot.Request(tgbotapi.NewDeleteMessage(chatID, msgRef))
	if err != nil {
		return fmt.Errorf("telegram delete: %w", err)
	}
	return nil
}

func renderEvent(event Event, p Payload) string {
	switch event {
	case EventOrderCreated:
		return fmt.Sprintf(
			"🛍️ <b>شماره سرویس:</b> %v\n\n💳 <b>مبلغ نهایی:</b>\n<code>%v</code> ریال\n\n🏦 <b>شماره کارت:</b>\n<code>%v</code>\n👤 <b>صاحب حساب:</b> %v\n\n⚠️ مهلت پرداخت تا %v\n\n‼️ از رند کردن مبلغ خودداری کنید؛ مبلغ <u>دقیق</u> بالا ملاک تایید است.",
			p["order_id"], p["amount"], p["card_number"], p["card_owner"], p["deadline"])
	case EventOrderVerified:
		return fmt.Sprintf(
			"🥳 تراکنش شما تایید شد!\n\n🛍️ <b>شماره سرویس:</b> %v\n🔋 <b>حجم:</b> %v گیگ\n⏰ <b>مدت:</b> %v روز\n\n♻️ <b>لینک آپدیت خودکار:</b>\n<code>%v</code>",
			p["order_id"], p["traffic_gb"], p["period_days"], p["sub_link"])
	case EventOrderExpired:
		return fmt.Sprintf(
			"🫠 متاسفانه زمان پرداخت سرویس %v به اتمام رسید.\n\n😇 لطفا مجددا اقدام به خرید بفرمایید.",
			p["order_id"])
	case EventTrialGranted:
		return fmt.Sprintf(
			"🎁 کانفیگ تست شما ساخته شد.\n\n♻️ لینک آپدیت خودکار:\n<code>%v</code>",
			p["sub_link"])
	case EventTrafficWarning:
		return fmt.Sprintf(
			"🪫 حجم باقیمانده سرویس %v کمتر از %v گیگ است.\n\n🛍️ جهت تمدید از منو اقدام بفرمایید.",
			p["order_id"], p["remaining_gb"])
	case EventExpiryWarning:
		return fmt.Sprintf(
			"📅 سرویس %v به زودی منقضی می‌شود.\n\n🛍️ جهت تمدید از منو اقدام بفرمایید.",
			p["order_id"])
	case EventRenewalFailed:
		return fmt.Sprintf(
			"❌ renewal of order %v failed after the old credential was removed — manual intervention required (user %v)",
			p["order_id"], p["user_id"])
	case EventOperatorAlert:
		return fmt.Sprintf("⚠️ %v", p["message"])
	default:
		return string(event)
	}
}
