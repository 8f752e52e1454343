package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"stablecore/crypto"
	"stablecore/native/stable"
	"stablecore/observability/metrics"
)

type collateralParams struct {
	User     string `json:"user"`
	Asset    string `json:"asset"`
	Quantity string `json:"quantity"`
}

type amountParams struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type comboParams struct {
	User     string `json:"user"`
	Asset    string `json:"asset"`
	Quantity string `json:"quantity"`
	Amount   string `json:"amount"`
}

type liquidateParams struct {
	Liquidator  string `json:"liquidator"`
	Target      string `json:"target"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debtToCover"`
}

type accountParams struct {
	Address string `json:"address"`
}

type balanceParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type conversionParams struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type setPriceParams struct {
	Feed     string `json:"feed"`
	Pair     string `json:"pair"`
	Price    string `json:"price"`
	Decimals uint8  `json:"decimals"`
}

type fundParams struct {
	Symbol string `json:"symbol"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type approveParams struct {
	Symbol  string `json:"symbol"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type tokenQueryParams struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

type accountInfoResult struct {
	DebtMinted         string `json:"debtMinted"`
	CollateralUsdValue string `json:"collateralUsdValue"`
}

type amountResult struct {
	Amount string `json:"amount"`
}

type statusResult struct {
	Status string `json:"status"`
}

type paramsResult struct {
	LiquidationThreshold uint64 `json:"liquidationThreshold"`
	LiquidationPrecision uint64 `json:"liquidationPrecision"`
	LiquidationBonus     uint64 `json:"liquidationBonus"`
	MinHealthFactor      string `json:"minHealthFactor"`
	Precision            string `json:"precision"`
	ModuleAddress        string `json:"moduleAddress"`
}

func decodeParams(req RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(raw string) (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(raw))
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", raw)
	}
	return value, nil
}

func (s *Server) handleDepositCollateral(w http.ResponseWriter, req RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", err.Error())
		return
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset address", err.Error())
		return
	}
	quantity, err := parseAmount(params.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid quantity", err.Error())
		return
	}
	if err := s.engine.DepositCollateral(user, asset, quantity); err != nil {
		s.writeEngineError(w, req.ID, "deposit", err)
		return
	}
	metrics.Stable().ObserveOperation("deposit", nil)
	s.logger.Info("collateral deposited", "user", params.User, "asset", params.Asset, "quantity", params.Quantity)
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleMintDebt(w http.ResponseWriter, req RPCRequest) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.engine.MintDebt(user, amount); err != nil {
		s.writeEngineError(w, req.ID, "mint", err)
		return
	}
	metrics.Stable().ObserveOperation("mint", nil)
	s.logger.Info("debt minted", "user", params.User, "amount", params.Amount)
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleBurnDebt(w http.ResponseWriter, req RPCRequest) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.engine.BurnDebt(user, amount); err != nil {
		s.writeEngineError(w, req.ID, "burn", err)
		return
	}
	metrics.Stable().ObserveOperation("burn", nil)
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleRedeemCollateral(w http.ResponseWriter, req RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", err.Error())
		return
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset address", err.Error())
		return
	}
	quantity, err := parseAmount(params.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid quantity", err.Error())
		return
	}
	if err := s.engine.RedeemCollateral(user, asset, quantity); err != nil {
		s.writeEngineError(w, req.ID, "redeem", err)
		return
	}
	metrics.Stable().ObserveOperation("redeem", nil)
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, req RPCRequest) {
	var params comboParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", err.Error())
		return
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset address", err.Error())
		return
	}
	quantity, err := parseAmount(params.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid quantity", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.engine.DepositAndMint(user, asset, quantity, amount); err != nil {
		s.writeEngineError(w, req.ID, "depositAndMint", err)
		return
	}
	metrics.Stable().ObserveOperation("depositAndMint", nil)
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleRedeemForBurn(w http.ResponseWriter, req RPCRequest) {
	var params comboParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", err.Error())
		return
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset address", err.Error())
		return
	}
	quantity, err := parseAmount(params.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid quantity", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.engine.RedeemForBurn(user, asset, quantity, amount); err != nil {
		s.writeEngineError(w, req.ID, "redeemForBurn", err)
		return
	}
	metrics.Stable().ObserveOperation("redeemForBurn", nil)
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, req RPCRequest) {
	var params liquidateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	liquidator, err := parseAddress(params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid liquidator address", err.Error())
		return
	}
	target, err := parseAddress(params.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid target address", err.Error())
		return
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset address", err.Error())
		return
	}
	debtToCover, err := parseAmount(params.DebtToCover)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid debtToCover", err.Error())
		return
	}
	if err := s.engine.Liquidate(liquidator, target, asset, debtToCover); err != nil {
		s.writeEngineError(w, req.ID, "liquidate", err)
		return
	}
	metrics.Stable().ObserveOperation("liquidate", nil)
	s.logger.Info("position liquidated", "liquidator", params.Liquidator, "target", params.Target, "debtToCover", params.DebtToCover)
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleGetAccountInformation(w http.ResponseWriter, req RPCRequest) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	debt, collateralUsd, err := s.engine.GetAccountInformation(addr)
	if err != nil {
		s.writeEngineError(w, req.ID, "accountInformation", err)
		return
	}
	writeResult(w, req.ID, accountInfoResult{
		DebtMinted:         debt.String(),
		CollateralUsdValue: collateralUsd.String(),
	})
}

func (s *Server) handleGetUsdValue(w http.ResponseWriter, req RPCRequest) {
	var params conversionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset address", err.Error())
		return
	}
	quantity, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	value, err := s.engine.GetUsdValue(asset, quantity)
	if err != nil {
		s.writeEngineError(w, req.ID, "usdValue", err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: value.String()})
}

func (s *Server) handleGetTokenAmountFromUsd(w http.ResponseWriter, req RPCRequest) {
	var params conversionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset address", err.Error())
		return
	}
	usdAmount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	quantity, err := s.engine.GetTokenAmountFromUsd(asset, usdAmount)
	if err != nil {
		s.writeEngineError(w, req.ID, "tokenAmountFromUsd", err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: quantity.String()})
}

func (s *Server) handleGetCollateralBalance(w http.ResponseWriter, req RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	asset, err := parseAddress(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset address", err.Error())
		return
	}
	quantity, err := s.engine.GetCollateralBalanceOfUser(addr, asset)
	if err != nil {
		s.writeEngineError(w, req.ID, "collateralBalance", err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: quantity.String()})
}

func (s *Server) handleGetHealthFactor(w http.ResponseWriter, req RPCRequest) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	score, err := s.engine.HealthFactor(addr)
	if err != nil {
		s.writeEngineError(w, req.ID, "healthFactor", err)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: score.String()})
}

func (s *Server) handleParams(w http.ResponseWriter, req RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	params := s.engine.Params()
	writeResult(w, req.ID, paramsResult{
		LiquidationThreshold: params.LiquidationThreshold,
		LiquidationPrecision: params.LiquidationPrecision,
		LiquidationBonus:     params.LiquidationBonus,
		MinHealthFactor:      params.MinHealthFactor.String(),
		Precision:            stable.Precision().String(),
		ModuleAddress:        s.engine.ModuleAddress().String(),
	})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, req RPCRequest) {
	var params setPriceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	feed, ok := s.feeds[strings.ToLower(strings.TrimSpace(params.Feed))]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, "unknown feed", params.Feed)
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price", err.Error())
		return
	}
	if err := feed.Post(params.Pair, price, params.Decimals); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.logger.Info("price posted", "feed", params.Feed, "pair", params.Pair, "price", params.Price)
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleTokenFund(w http.ResponseWriter, req RPCRequest) {
	var params fundParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	ledger, ok := s.assets[strings.ToUpper(strings.TrimSpace(params.Symbol))]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, "unknown asset symbol", params.Symbol)
		return
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := ledger.Fund(to, amount); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, req RPCRequest) {
	var params approveParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner address", err.Error())
		return
	}
	spender, err := parseAddress(params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid spender address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(params.Symbol))
	var approveErr error
	if s.debt != nil && symbol == s.debt.Symbol() {
		approveErr = s.debt.Approve(owner, spender, amount)
	} else if ledger, ok := s.assets[symbol]; ok {
		approveErr = ledger.Approve(owner, spender, amount)
	} else {
		writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, "unknown token symbol", params.Symbol)
		return
	}
	if approveErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeServerError, approveErr.Error(), nil)
		return
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, req RPCRequest) {
	var params tokenQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(params.Symbol))
	var balance *big.Int
	var balErr error
	if s.debt != nil && symbol == s.debt.Symbol() {
		balance, balErr = s.debt.BalanceOf(addr)
	} else if ledger, ok := s.assets[symbol]; ok {
		balance, balErr = ledger.BalanceOf(addr)
	} else {
		writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, "unknown token symbol", params.Symbol)
		return
	}
	if balErr != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, balErr.Error(), nil)
		return
	}
	writeResult(w, req.ID, amountResult{Amount: balance.String()})
}
