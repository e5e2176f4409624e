package eventbus

// Bus-internal subjects.
const (
	SubjectAlertHandlerError Subject = "system.alert.handler_error"
)

// PM subjects.
const (
	SubjectPMAccountLoaded   Subject = "pm.account.loaded"
	SubjectPMLoadFailed      Subject = "pm.load.failed"
	SubjectPMManagerReady    Subject = "pm.manager.ready"
	SubjectPMAccountEnabled  Subject = "pm.account.enabled"
	SubjectPMAccountDisabled Subject = "pm.account.disabled"
	SubjectPMManagerShutdown Subject = "pm.manager.shutdown"
)

// DE subjects.
const (
	SubjectDEGetHistoricalKlines  Subject = "de.get_historical_klines"
	SubjectDEHistoricalSuccess    Subject = "de.historical_klines.success"
	SubjectDEHistoricalFailed     Subject = "de.historical_klines.failed"
	SubjectDEKlineUpdate          Subject = "de.kline.update"
	SubjectDEClientConnected      Subject = "de.client.connected"
	SubjectDEClientConnFailed     Subject = "de.client.connection_failed"
	SubjectDEWebsocketConnected   Subject = "de.websocket.connected"
	SubjectDEWebsocketDisconn     Subject = "de.websocket.disconnected"
	SubjectDEUserStreamStarted    Subject = "de.user_stream.started"
	SubjectDEOrderUpdate          Subject = "de.order.update"
	SubjectDEOrderFilled          Subject = "de.order.filled"
	SubjectDEOrderSubmitted       Subject = "de.order.submitted"
	SubjectDEOrderFailed          Subject = "de.order.failed"
	SubjectDEOrderCancelled       Subject = "de.order.cancelled"
	SubjectDEAccountUpdate        Subject = "de.account.update"
	SubjectDEAccountBalance       Subject = "de.account.balance"
	SubjectDEPositionUpdate       Subject = "de.position.update"
)

// TA subjects.
const (
	SubjectTAIndicatorSubscribe    Subject = "st.indicator.subscribe"
	SubjectTACalculationCompleted  Subject = "ta.calculation.completed"
	SubjectTAIndicatorCreated      Subject = "ta.indicator.created"
	SubjectTAIndicatorCreateFailed Subject = "ta.indicator.create_failed"
)

// ST subjects.
const (
	SubjectSTSignalGenerated Subject = "st.signal.generated"
	SubjectSTGridCreate      Subject = "st.grid.create"
)

// TR subjects.
const (
	SubjectTRGetAccountBalance Subject = "trading.get_account_balance"
	SubjectTROrderCreate       Subject = "trading.order.create"
	SubjectTROrderCancel       Subject = "trading.order.cancel"
	SubjectTRPositionOpened    Subject = "tr.position.opened"
	SubjectTRPositionClosed    Subject = "tr.position.closed"
	SubjectTRManagerStarted    Subject = "tr.manager.started"
)

// Side values used in Signal/order data payloads.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
	SideBuy   = "BUY"
	SideSell  = "SELL"
)

// Action values used in signal payloads.
const (
	ActionOpen  = "OPEN"
	ActionClose = "CLOSE"
)
