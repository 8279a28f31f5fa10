// Package voip implements the VoipIO worker: it owns a SIP user agent and
// the RTP media path for one leg, translating SIP/RTP events into the
// hub's Command vocabulary (spec.md §6) and vice versa. The reject-then-
// callback behaviour of leg 1 and the plain outbound dial of leg 2 are
// both modelled by the same SIPVoipIO, parameterised by role.
//
// Grounded on the teacher's internal/signaling/b2bua/originator.go (INVITE
// construction and the sipgo TransactionRequest/Responses/Done response
// loop) and internal/rtpmanager/media (Codec framing, RTPStreamWriter
// pacing, DTMF RFC 4733 encoding) — rewritten as a single in-process
// worker instead of a signaling/rtpmanager service pair, since this spec
// runs as one binary.
package voip

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	psdp "github.com/pion/sdp/v3"
	"github.com/sebas/switchboard/internal/messages"
	"github.com/zaf/g711"
)

// Role distinguishes leg 1 (reject-then-callback, inbound-capable) from
// leg 2 (plain outbound dial, no inbound acceptance, no DTMF).
type Role int

const (
	RoleCaller Role = 1
	RoleCallee Role = 2
)

// noAnswerCodes mirrors spec.md §4.1's leg-2 busy/decline/not-available
// family that triggers the noanswer announcement.
var noAnswerCodes = map[int]bool{486: true, 600: true, 603: true, 604: true, 606: true}

// Config configures one SIPVoipIO instance.
type Config struct {
	Role          Role
	ListenAddr    string // UDP address to listen on for inbound INVITEs (leg 1 only)
	AdvertiseAddr string
	Port          int
	RTPPortStart  int
	RTPPortEnd    int
	DialTimeout   time.Duration
	RejectCode    sip.StatusCode // SIP code leg 1 uses to reject inbound INVITEs
}

// Worker is the channel surface spec.md §5 assigns to each VoipIOi:
// a command channel in both directions, plus a record-out/play-in audio
// pair.
type Worker struct {
	CommandsIn chan *messages.Command
	EventsOut  chan *messages.Command
	RecordOut  chan messages.AudioFrame
	PlayIn     chan messages.AudioFrame
}

// NewWorker allocates the buffered channels spec.md §5 sizes (command=16,
// audio=64). Senders that use non-blocking sends (recordLoop, the hub's
// audio bridge) drop the frame they are sending when a channel is full;
// the TTS worker instead waits for room on PlayIn.
func NewWorker() *Worker {
	return &Worker{
		CommandsIn: make(chan *messages.Command, 16),
		EventsOut:  make(chan *messages.Command, 16),
		RecordOut:  make(chan messages.AudioFrame, 64),
		PlayIn:     make(chan messages.AudioFrame, 64),
	}
}

// SIPVoipIO is the real sipgo/pion/g711-backed VoipIO implementation.
type SIPVoipIO struct {
	cfg    Config
	worker *Worker

	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	mu        sync.Mutex
	blacklist map[string]time.Time
	call      *activeCall
}

// activeCall tracks the single in-flight dialog this worker is bridging;
// spec.md's hub never asks a leg to hold more than one call at a time.
type activeCall struct {
	remoteURI string
	localTag  string
	remoteTag string
	callID    string
	dialog    *sip.Request // the original INVITE, kept for BYE construction
	client    sip.ClientTransaction

	rtpConn    net.PacketConn
	remoteAddr net.Addr
	ssrc       uint32
	seq        uint16
	ts         uint32

	cancel context.CancelFunc
}

// New builds a SIPVoipIO bound to its own SIP user agent.
func New(cfg Config, worker *Worker) (*SIPVoipIO, error) {
	if cfg.RejectCode == 0 {
		cfg.RejectCode = sip.StatusBusyHere
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("voip: new user agent: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("voip: new client: %w", err)
	}

	v := &SIPVoipIO{
		cfg:       cfg,
		worker:    worker,
		ua:        ua,
		client:    client,
		blacklist: make(map[string]time.Time),
	}

	if cfg.Role == RoleCaller {
		srv, err := sipgo.NewServer(ua)
		if err != nil {
			ua.Close()
			return nil, fmt.Errorf("voip: new server: %w", err)
		}
		srv.OnRequest(sip.INVITE, v.onInvite)
		v.srv = srv
	}

	return v, nil
}

// Run drives the worker until ctx is cancelled or a stop() command
// arrives: serves inbound INVITEs (leg 1) and services the command
// channel for make_call/hangup/flush/black_list/stop.
func (v *SIPVoipIO) Run(ctx context.Context) error {
	if v.srv != nil {
		go func() {
			if err := v.srv.ListenAndServe(ctx, "udp", v.cfg.ListenAddr); err != nil && ctx.Err() == nil {
				slog.Error("voip: server stopped", "error", err, "addr", v.cfg.ListenAddr)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			v.ua.Close()
			return nil
		case cmd, ok := <-v.worker.CommandsIn:
			if !ok {
				v.ua.Close()
				return nil
			}
			v.handleCommand(ctx, cmd)
			if cmd.Name == "stop" {
				v.ua.Close()
				return nil
			}
		}
	}
}

func (v *SIPVoipIO) handleCommand(ctx context.Context, cmd *messages.Command) {
	switch cmd.Name {
	case "make_call":
		destination, _ := cmd.Arg("destination")
		go v.makeCall(ctx, destination)
	case "hangup":
		v.hangup()
	case "flush":
		v.drainPlay()
	case "black_list":
		uri, _ := cmd.Arg("remote_uri")
		expireStr, _ := cmd.Arg("expire")
		if expire, err := time.Parse(time.RFC3339, expireStr); err == nil {
			v.mu.Lock()
			v.blacklist[uri] = expire
			v.mu.Unlock()
		}
	case "stop":
		v.hangup()
	default:
		slog.Warn("voip: unknown command", "name", cmd.Name, "leg", v.cfg.Role)
	}
}

func (v *SIPVoipIO) isBlacklisted(uri string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	expire, ok := v.blacklist[uri]
	if !ok {
		return false
	}
	if time.Now().After(expire) {
		delete(v.blacklist, uri)
		return false
	}
	return true
}

// onInvite implements leg 1's "immediately rejects the incoming INVITE"
// behaviour (spec.md §1): every inbound call is declined with cfg.RejectCode,
// and an event is emitted so the hub can schedule a call-back.
func (v *SIPVoipIO) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	remoteURI := req.From()
	uri := "sip:unknown"
	if remoteURI != nil {
		uri = remoteURI.Address.String()
	}

	event := "rejected_call"
	if v.isBlacklisted(uri) {
		event = "rejected_call_from_blacklisted_uri"
	}

	resp := sip.NewResponseFromRequest(req, v.cfg.RejectCode, "Declined", nil)
	if err := tx.Respond(resp); err != nil {
		slog.Warn("voip: failed to respond to inbound INVITE", "error", err)
	}

	v.emit("incoming_call", map[string]string{"remote_uri": uri})
	v.emit(event, map[string]string{"remote_uri": uri})
}

// makeCall places an outbound INVITE, mirroring the teacher's
// executeINVITE response loop (TransactionRequest/Responses/Done),
// simplified to one leg with no bridging-aware media negotiation beyond
// a single PCMU offer/answer.
func (v *SIPVoipIO) makeCall(ctx context.Context, destination string) {
	var target sip.Uri
	if err := sip.ParseUri(destination, &target); err != nil {
		v.emit("call_disconnected", map[string]string{"remote_uri": destination, "code": "478"})
		return
	}

	rtpConn, rtpPort, err := v.allocateRTPPort()
	if err != nil {
		slog.Error("voip: rtp allocation failed", "error", err)
		v.emit("call_disconnected", map[string]string{"remote_uri": destination, "code": "500"})
		return
	}

	localTag := uuid.New().String()
	callID := "leg-" + uuid.New().String()

	invite := sip.NewRequest(sip.INVITE, target)
	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromURI := sip.Uri{Scheme: "sip", User: "switchboard", Host: v.cfg.AdvertiseAddr, Port: v.cfg.Port}
	fromParams := sip.NewParams()
	fromParams.Add("tag", localTag)
	invite.AppendHeader(&sip.FromHeader{Address: fromURI, Params: fromParams})
	invite.AppendHeader(&sip.ToHeader{Address: target, Params: sip.NewParams()})
	callIDHdr := sip.CallIDHeader(callID)
	invite.AppendHeader(&callIDHdr)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	invite.AppendHeader(&sip.ContactHeader{Address: fromURI})
	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(buildOfferSDP(v.cfg.AdvertiseAddr, rtpPort))

	dialCtx, cancel := context.WithTimeout(ctx, v.cfg.DialTimeout)
	defer cancel()

	tx, err := v.client.TransactionRequest(dialCtx, invite)
	if err != nil {
		rtpConn.Close()
		v.emit("call_disconnected", map[string]string{"remote_uri": destination, "code": "503"})
		return
	}

	call := &activeCall{remoteURI: destination, localTag: localTag, callID: callID, dialog: invite, client: tx, rtpConn: rtpConn}

	for {
		select {
		case <-dialCtx.Done():
			v.emit("call_disconnected", map[string]string{"remote_uri": destination, "code": "408"})
			rtpConn.Close()
			return
		case resp, ok := <-tx.Responses():
			if !ok || resp == nil {
				v.emit("call_disconnected", map[string]string{"remote_uri": destination, "code": "500"})
				rtpConn.Close()
				return
			}
			switch {
			case resp.StatusCode >= 100 && resp.StatusCode < 200:
				v.emit("call_connecting", map[string]string{"remote_uri": destination})
			case resp.StatusCode == 200:
				callCtx, callCancel := context.WithCancel(ctx)
				call.cancel = callCancel
				if to := resp.To(); to != nil {
					if tag, ok := to.Params.Get("tag"); ok {
						call.remoteTag = tag
					}
				}
				remote, ssrc := parseAnswerSDP(resp.Body())
				call.remoteAddr = remote
				call.ssrc = ssrc
				var rs, ts [4]byte
				_, _ = rand.Read(rs[:2])
				_, _ = rand.Read(ts[:])
				call.seq = binary.BigEndian.Uint16(rs[:2])
				call.ts = binary.BigEndian.Uint32(ts[:])

				if err := v.sendAck(invite, resp); err != nil {
					slog.Warn("voip: ACK send failed", "error", err)
				}

				v.mu.Lock()
				v.call = call
				v.mu.Unlock()

				v.emit("call_confirmed", map[string]string{"remote_uri": destination})
				go v.recordLoop(callCtx, call)
				go v.playLoop(callCtx, call)
				return
			case resp.StatusCode >= 300:
				code := fmt.Sprintf("%d", resp.StatusCode)
				v.emit("call_disconnected", map[string]string{"remote_uri": destination, "code": code})
				if noAnswerCodes[resp.StatusCode] {
					slog.Debug("voip: no-answer family response", "code", resp.StatusCode)
				}
				rtpConn.Close()
				return
			}
		case <-tx.Done():
			return
		}
	}
}

// sendAck builds and sends the ACK for a 2xx response per RFC 3261
// §13.2.2.4: a standalone request (not part of the INVITE transaction),
// addressed to the Contact URI from the 2xx. Grounded on the teacher's
// Originator.sendACK (internal/signaling/b2bua/originator.go).
func (v *SIPVoipIO) sendAck(invite *sip.Request, resp *sip.Response) error {
	requestURI := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		requestURI = contact.Address
	}
	ack := sip.NewRequest(sip.ACK, requestURI)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)
	return v.client.WriteRequest(ack)
}

func (v *SIPVoipIO) hangup() {
	v.mu.Lock()
	call := v.call
	v.call = nil
	v.mu.Unlock()
	if call == nil {
		return
	}
	if call.cancel != nil {
		call.cancel()
	}
	if call.rtpConn != nil {
		call.rtpConn.Close()
	}
	if v.cfg.Role == RoleCaller || v.cfg.Role == RoleCallee {
		bye := sip.NewRequest(sip.BYE, call.dialog.Recipient)
		callIDHdr := sip.CallIDHeader(call.callID)
		bye.AppendHeader(&callIDHdr)
		if err := v.client.WriteRequest(bye); err != nil {
			slog.Debug("voip: BYE send failed, peer likely already gone", "error", err)
		}
	}
}

func (v *SIPVoipIO) drainPlay() {
	for {
		select {
		case <-v.worker.PlayIn:
		default:
			return
		}
	}
}

// dtmfPayloadType is the RFC 4733 telephone-event payload type leg 1 uses
// to recognise callee-dialling digits (spec.md §4.1's "Callee dialling").
const dtmfPayloadType = 101

// recordLoop reads RTP from the remote party, forwards the PCMU payloads
// to RecordOut as-is (decoding is left to the VAD), and — for leg 1 — extracts RFC 4733 telephone-event
// digits into dtmf_digit events (teacher's internal/rtpmanager/media/dtmf.go
// provides the wire-format grounding, reimplemented locally here since
// this worker has no rtpmanager session to share it with).
func (v *SIPVoipIO) recordLoop(ctx context.Context, call *activeCall) {
	buf := make([]byte, 1500)
	var lastDTMFEvent uint8 = 0xff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		call.rtpConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := call.rtpConn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if pkt.PayloadType == dtmfPayloadType {
			if v.cfg.Role == RoleCaller {
				v.handleDTMFPayload(pkt.Payload, &lastDTMFEvent)
			}
			continue
		}
		frame := messages.AudioFrame{Payload: pkt.Payload, Codec: "PCMU", SampleRate: 8000, Timestamp: pkt.Timestamp}
		select {
		case v.worker.RecordOut <- frame:
		case <-ctx.Done():
			return
		default:
			slog.Warn("voip: dropping recorded frame, downstream full")
		}
	}
}

// handleDTMFPayload decodes one RFC 4733 event packet and emits a single
// dtmf_digit event on the end-of-event packet, using lastDTMFEvent to
// suppress the repeated end-of-event retransmissions senders commonly send.
func (v *SIPVoipIO) handleDTMFPayload(payload []byte, lastDTMFEvent *uint8) {
	if len(payload) < 4 {
		return
	}
	event := payload[0]
	endOfEvent := payload[1]&0x80 != 0
	if !endOfEvent {
		// A packet without the E bit starts (or continues) a new press, so
		// the next end-of-event packet is not a retransmission.
		*lastDTMFEvent = 0xff
		return
	}
	if event == *lastDTMFEvent {
		return
	}
	*lastDTMFEvent = event
	digit, ok := dtmfEventToRune(event)
	if !ok {
		return
	}
	v.emit("dtmf_digit", map[string]string{"digit": string(digit)})
}

func dtmfEventToRune(event uint8) (rune, bool) {
	switch {
	case event <= 9:
		return rune('0' + event), true
	case event == 10:
		return '*', true
	case event == 11:
		return '#', true
	case event >= 12 && event <= 15:
		return rune('A' + (event - 12)), true
	}
	return 0, false
}

// playLoop paces PlayIn frames onto the wire as RTP, clock-paced by a
// 20ms ticker (teacher's RTPStreamWriter pattern).
func (v *SIPVoipIO) playLoop(ctx context.Context, call *activeCall) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-v.worker.PlayIn:
			if !ok {
				return
			}
			<-ticker.C
			pkt := rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    0,
					SequenceNumber: call.seq,
					Timestamp:      call.ts,
					SSRC:           call.ssrc,
				},
				Payload: frame.Payload,
			}
			data, err := pkt.Marshal()
			if err != nil {
				continue
			}
			if _, err := call.rtpConn.WriteTo(data, call.remoteAddr); err != nil {
				slog.Debug("voip: rtp write failed", "error", err)
			}
			call.seq++
			call.ts += 160
		}
	}
}

func (v *SIPVoipIO) emit(name string, args map[string]string) {
	cmd := messages.NewCommand(name, fmt.Sprintf("VOIP%d", v.cfg.Role), "HUB")
	for k, val := range args {
		cmd.Set(k, val)
	}
	select {
	case v.worker.EventsOut <- cmd:
	default:
		slog.Warn("voip: dropping event, hub channel full", "event", name)
	}
}

// allocateRTPPort binds a UDP socket in the configured port range for the
// media session of one call.
func (v *SIPVoipIO) allocateRTPPort() (net.PacketConn, int, error) {
	start, end := v.cfg.RTPPortStart, v.cfg.RTPPortEnd
	if start == 0 {
		start, end = 30000, 30100
	}
	for port := start; port <= end; port += 2 {
		addr := fmt.Sprintf("%s:%d", v.cfg.AdvertiseAddr, port)
		conn, err := net.ListenPacket("udp", addr)
		if err == nil {
			return conn, port, nil
		}
	}
	return nil, 0, fmt.Errorf("voip: no free RTP port in [%d,%d]", start, end)
}

// buildOfferSDP constructs a minimal PCMU offer, grounded on the teacher's
// services/rtpmanager/sdp/builder.go shape.
func buildOfferSDP(addr string, port int) []byte {
	sd := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username: "switchboard", SessionID: 1, SessionVersion: 1,
			NetworkType: "IN", AddressType: "IP4", UnicastAddress: addr,
		},
		SessionName: "switchboard-hub",
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN", AddressType: "IP4", Address: &psdp.Address{Address: addr},
		},
		TimeDescriptions: []psdp.TimeDescription{{}},
		MediaDescriptions: []*psdp.MediaDescription{{
			MediaName: psdp.MediaName{
				Media:   "audio",
				Port:    psdp.RangedPort{Value: port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{"0"},
			},
			Attributes: []psdp.Attribute{{Key: "rtpmap", Value: "0 PCMU/8000"}},
		}},
	}
	body, _ := sd.Marshal()
	return body
}

// parseAnswerSDP extracts the remote media address and a fresh SSRC from
// an SDP answer body.
func parseAnswerSDP(body []byte) (net.Addr, uint32) {
	var sd psdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil || len(sd.MediaDescriptions) == 0 {
		return nil, randomSSRC()
	}
	host := sd.ConnectionInformation.Address.Address
	port := sd.MediaDescriptions[0].MediaName.Port.Value
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, randomSSRC()
	}
	return addr, randomSSRC()
}

func randomSSRC() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// EncodeToneFrame exists so other packages (tests, tts) can validate their
// G.711 payloads decode the same way recordLoop/playLoop expect.
func EncodeToneFrame(linearPCM []byte) []byte {
	return g711.EncodeUlaw(linearPCM)
}
