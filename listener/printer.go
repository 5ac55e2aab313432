package listener

import (
	"fmt"
	"io"
	"sync"
)

// TransactionPrinter 将细粒度事件以分隔线的形式打印到控制台。
type TransactionPrinter struct {
	w    io.Writer
	port int
	mu   sync.Mutex
}

// NewTransactionPrinter 创建 TransactionPrinter。
func NewTransactionPrinter(port int, w io.Writer) *TransactionPrinter {
	return &TransactionPrinter{port: port, w: w}
}

// OnStart 实现 TransactionListener。
func (p *TransactionPrinter) OnStart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "Starting connection and listening to port %d\n", p.port)
}

// OnStop 实现 TransactionListener。
func (p *TransactionPrinter) OnStop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, "Stopping connection")
}

// OnRequest 实现 TransactionListener。
func (p *TransactionPrinter) OnRequest(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.line("RECEIVED REQUEST - START")
	if text, ok := msg.Value(); ok {
		fmt.Fprintf(p.w, "Received request: %s\n", text)
	} else {
		fmt.Fprintln(p.w, "Received no request")
	}
	p.line("RECEIVED REQUEST - END")
}

// OnResponse 实现 TransactionListener。
func (p *TransactionPrinter) OnResponse(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.line("SENT RESPONSE - START")
	if text, ok := msg.Value(); ok {
		fmt.Fprintf(p.w, "Sent response: %s\n", text)
	} else {
		fmt.Fprintln(p.w, "Sent no response")
	}
	p.line("SENT RESPONSE - END")
}

func (p *TransactionPrinter) line(header string) {
	fmt.Fprintf(p.w, "\n-------------------- %s --------------------\n\n", header)
}

// TransactionWriter 以事务为单位打印请求、响应与结果。
type TransactionWriter struct {
	w    io.Writer
	port int
	mu   sync.Mutex
}

// NewTransactionWriter 创建 TransactionWriter。
func NewTransactionWriter(port int, w io.Writer) *TransactionWriter {
	return &TransactionWriter{port: port, w: w}
}

// OnStart 实现 ServerListener。
func (p *TransactionWriter) OnStart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\n------------\nStarting server and listening to port %d\n------------\n", p.port)
}

// OnStop 实现 ServerListener。
func (p *TransactionWriter) OnStop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, "\n------------\nStopping server\n------------\n")
}

// OnTransaction 实现 ServerListener。
func (p *TransactionWriter) OnTransaction(request, response Message, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w)
	if text, ok := request.Value(); ok {
		fmt.Fprintf(p.w, "Received message: %s\n", text)
	} else {
		fmt.Fprintln(p.w, "Received no message")
	}
	if text, ok := response.Value(); ok {
		fmt.Fprintf(p.w, "Sending response: %s\n", text)
	} else {
		fmt.Fprintln(p.w, "Sending no response")
	}

	if success {
		fmt.Fprintln(p.w, "Successful response")
	} else {
		fmt.Fprintln(p.w, "Failed response")
	}
}
