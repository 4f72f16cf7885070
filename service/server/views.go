package server

import (
	"context"
	"math/big"
	"strings"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/brojonat/idproperty/service/db"
	"github.com/brojonat/idproperty/service/format"
	"github.com/brojonat/idproperty/service/query"
	"github.com/brojonat/idproperty/service/reader"
	"github.com/brojonat/idproperty/service/session"
	"github.com/brojonat/idproperty/service/transfer"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const notAvailable = "-"

// propertyCard is the property summary shown on several pages.
type propertyCard struct {
	Available  bool
	Name       string
	Location   string
	Active     bool
	TotalValue string
	TokenPrice string
	Supply     string
}

func newPropertyCard(prop query.Result[*chain.Property], price query.Result[*big.Int]) propertyCard {
	if !prop.Ok() {
		return propertyCard{}
	}
	return propertyCard{
		Available:  true,
		Name:       prop.Value.Name,
		Location:   prop.Value.Location,
		Active:     prop.Value.IsActive,
		TotalValue: format.FormatIDRInt(prop.Value.TotalValue),
		TokenPrice: format.FormatIDRInt(price.OrElse(nil)),
		Supply:     format.FormatTokensRaw(prop.Value.TotalTokens),
	}
}

// calculateInvestment prices a token amount typed into the calculator and
// returns its share of the property in basis points. Unparseable or
// negative input counts as zero.
func calculateInvestment(tokens string, price, totalTokens *big.Int) (decimal.Decimal, *big.Int) {
	amount, err := decimal.NewFromString(strings.TrimSpace(tokens))
	if err != nil || amount.IsNegative() {
		amount = decimal.Zero
	}

	value := decimal.Zero
	if price != nil {
		value = amount.Mul(decimal.NewFromBigInt(price, 0))
	}

	bp := new(big.Int)
	if totalTokens != nil && totalTokens.Sign() > 0 {
		whole := format.ToDecimal(totalTokens)
		bp = amount.Div(whole).Mul(decimal.NewFromInt(10000)).Round(0).BigInt()
	}
	return value, bp
}

func investmentRange(l reader.Limits) string {
	return format.FormatTokensRaw(l.Min.OrElse(nil)) + " - " + format.FormatTokensRaw(l.Max.OrElse(nil))
}

// ownershipCard is the connected account's holdings.
type ownershipCard struct {
	Balance        string
	Ownership      string
	PortfolioValue string
	Frozen         bool
	HasTokens      bool
}

func newOwnershipCard(balance, ownership, price query.Result[*big.Int], frozen query.Result[bool], symbol string) ownershipCard {
	bal := balance.OrElse(new(big.Int))
	return ownershipCard{
		Balance:        format.FormatTokens(bal, symbol),
		Ownership:      format.FormatPercent(ownership.OrElse(nil)),
		PortfolioValue: format.FormatIDR(format.TokenValue(bal, price.OrElse(nil))),
		Frozen:         frozen.OrElse(false),
		HasTokens:      bal.Sign() > 0,
	}
}

// transferRow is one line of the recent transfers panel.
type transferRow struct {
	Sent         bool
	Counterparty string
	Amount       string
	Phase        string
	When         string
	TxURL        string
}

const recentTransfersLimit = 5

// recentTransfers reads the account's transfers from the action history.
// It returns nil when no history is configured or the read fails.
func (p *pageDeps) recentTransfers(ctx context.Context, account common.Address) []transferRow {
	if p.history == nil {
		return nil
	}
	records, err := p.history.ListActionsByAccount(ctx, db.ListActionsParams{
		Account: account.Hex(),
		Kind:    txn.KindTransfer,
		Limit:   recentTransfersLimit,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "failed to list recent transfers", "account", account.Hex(), "error", err)
		return nil
	}

	rows := make([]transferRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, newTransferRow(rec, account, p.cfg.TokenSymbol, p.cfg.ExplorerURL))
	}
	return rows
}

func newTransferRow(rec *txn.Record, account common.Address, symbol, explorer string) transferRow {
	amount, ok := new(big.Int).SetString(rec.Params["amount"], 10)
	if !ok {
		amount = new(big.Int)
	}
	sent := strings.EqualFold(rec.Params["from"], account.Hex())
	row := transferRow{
		Sent:  sent,
		Phase: string(rec.Phase),
		When:  format.FormatDateShort(rec.CreatedAt.Unix()),
	}
	if sent {
		row.Counterparty = format.ShortenAddress(rec.Params["to"])
		row.Amount = "-" + format.FormatTokens(amount, symbol)
	} else {
		row.Counterparty = format.ShortenAddress(rec.Params["from"])
		row.Amount = "+" + format.FormatTokens(amount, symbol)
	}
	if rec.TxHash != "" {
		row.TxURL = format.TxURL(explorer, rec.TxHash)
	}
	return row
}

// settleTransfer turns a finished transfer into a toast once.
func settleTransfer(sess *session.Session, explorer string) {
	v := sess.Transfer.View()
	if v.Action == nil || txn.InFlight(v.State) || !sess.MarkNotified(v.Action.ID) {
		return
	}
	switch st := v.State.(type) {
	case txn.Succeeded:
		sess.AddFlash(session.Flash{
			Kind:    "success",
			Message: transfer.SuccessToast,
			Link:    format.TxURL(explorer, st.Hash.Hex()),
		})
	case txn.Failed:
		sess.AddFlash(session.Flash{Kind: "error", Message: transfer.FailureToast(st.Err)})
	}
}

// busy reports whether any of the session's actions is still in flight.
func busy(sess *session.Session, forms []string) bool {
	if txn.InFlight(sess.Transfer.View().State) {
		return true
	}
	for _, f := range forms {
		if sess.Slot(f).Busy() {
			return true
		}
	}
	return false
}
