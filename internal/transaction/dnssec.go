package transaction

import (
	"errors"

	"github.com/jroosing/lernadns/internal/dns"
	"github.com/jroosing/lernadns/internal/dnssec"
)

// requestDNSSECKeys walks the freshly installed answer and starts an
// auxiliary transaction for every DNSKEY and DS RRset still needed to
// validate it: the DNSKEY named by each RRSIG's signer, and the DS
// chaining each DNSKEY to its parent. Keys the trust anchor database
// already vouches for are taken from there instead. It reports whether
// any auxiliary lookup is now outstanding.
func (t *Transaction) requestDNSSECKeys() (bool, error) {
	if t.scope.DNSSECMode != DNSSECYes || t.scope.Protocol != dns.ProtocolDNS {
		return false, nil
	}
	if t.answer == nil || t.answer.IsEmpty() {
		return false, nil
	}
	if t.scope.Trust != nil && t.scope.Trust.LookupNegative(t.key.Name) {
		return false, nil
	}

	for _, it := range t.answer.Items() {
		switch rr := it.Record.(type) {
		case *dns.RRSIGRecord:
			owner := rr.Header().Name
			if !dns.NameEndsWith(owner, rr.SignerName) {
				// A signer outside the owner's ancestry can never be
				// authoritative for it; validation will flag this.
				continue
			}
			if rr.TypeCovered == dns.TypeDNSKEY && dns.NamesEqual(rr.SignerName, owner) {
				// Self-signed key set; the DNSKEY is in this very
				// answer and only the DS above anchors it.
				continue
			}
			key := dns.NewKey(rr.SignerName, dns.TypeDNSKEY, dns.ClassIN)
			if err := t.requestAuxiliary(key); err != nil {
				return false, err
			}

		case *dns.DNSKEYRecord:
			owner := rr.Header().Name
			if t.scope.Trust != nil && t.scope.Trust.LookupNegative(owner) {
				continue
			}
			key := dns.NewKey(owner, dns.TypeDS, dns.ClassIN)
			if err := t.requestAuxiliary(key); err != nil {
				return false, err
			}
		}
	}

	return len(t.dnssecTransactions) > 0, nil
}

// requestAuxiliary satisfies one DNSKEY or DS need: from the trust
// anchor database when possible, otherwise through a linked auxiliary
// transaction.
func (t *Transaction) requestAuxiliary(key dns.ResourceKey) error {
	if t.scope.Trust != nil {
		if ans, ok := t.scope.Trust.LookupPositive(key); ok {
			if t.validatedKeys == nil {
				t.validatedKeys = dns.NewAnswer(0)
			}
			t.validatedKeys.Extend(ans)
			return nil
		}
	}

	aux := t.scope.FindTransaction(key)
	if aux == nil || !aux.state.IsLive() {
		var err error
		aux, err = t.scope.manager.NewTransaction(t.scope, key)
		if err != nil {
			return err
		}
	}
	if aux == t {
		return nil
	}

	t.dnssecTransactions[aux] = struct{}{}
	aux.notifyTransactions[t] = struct{}{}

	if aux.state == StateNull {
		if err := aux.Go(); err != nil {
			delete(t.dnssecTransactions, aux)
			delete(aux.notifyTransactions, t)
			return err
		}
	}
	return nil
}

// notifyAuxiliary receives the outcome of one auxiliary lookup. Both
// link directions are severed; when the last one resolves and we are
// still validating, validation proceeds.
func (t *Transaction) notifyAuxiliary(aux *Transaction) {
	delete(t.dnssecTransactions, aux)
	delete(aux.notifyTransactions, t)

	if aux.state != StateSuccess {
		t.dnssecResult = DNSSECFailedAuxiliary
	} else if aux.answer != nil {
		if t.validatedKeys == nil {
			t.validatedKeys = dns.NewAnswer(0)
		}
		t.validatedKeys.Extend(aux.answer)
	}

	if t.state == StateValidating && len(t.dnssecTransactions) == 0 {
		t.processDNSSEC()
	}
}

// processDNSSEC finishes a network answer once every auxiliary lookup
// has resolved: validate, cache, complete.
func (t *Transaction) processDNSSEC() {
	if len(t.dnssecTransactions) > 0 {
		return
	}
	if t.dnssecResult == DNSSECFailedAuxiliary {
		t.Complete(StateDNSSECFailed)
		return
	}

	if err := t.validateDNSSEC(); err != nil {
		t.scope.Log.Error("dnssec validation error", "id", t.id, "err", err)
		t.Complete(StateResources)
		return
	}
	switch t.dnssecResult {
	case DNSSECIndeterminate, DNSSECValidated, DNSSECNoSignature:
	default:
		t.Complete(StateDNSSECFailed)
		return
	}

	t.cacheAnswer()

	if t.answerRCode == dns.RCodeNoError {
		t.Complete(StateSuccess)
	} else {
		t.Complete(StateFailure)
	}
}

// isPrimary reports whether an RRset key answers the question itself, as
// opposed to glue or other incidental material riding along.
func (t *Transaction) isPrimary(key dns.ResourceKey) bool {
	// A DNAME owned by a parent of the question redirects the whole
	// subtree (RFC 6672), so it decides the lookup like a CNAME does.
	if key.Type == dns.TypeDNAME {
		return dns.NameEndsWith(t.key.Name, key.Name)
	}
	if !dns.NamesEqual(key.Name, t.key.Name) {
		return false
	}
	return t.key.Type == dns.TypeANY ||
		t.key.Type == key.Type ||
		key.Type == dns.TypeCNAME
}

// dnskeysForValidation extracts the usable DNSKEY records from the
// validated key pool.
func (t *Transaction) dnskeysForValidation() []*dns.DNSKEYRecord {
	if t.validatedKeys == nil {
		return nil
	}
	var keys []*dns.DNSKEYRecord
	for _, it := range t.validatedKeys.Items() {
		if k, ok := it.Record.(*dns.DNSKEYRecord); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// validateDNSKEYByDS promotes every DNSKEY in the answer whose digest
// matches a validated DS record into the validated key pool. This is the
// step that crosses a zone cut.
func (t *Transaction) validateDNSKEYByDS() {
	if t.validatedKeys == nil {
		return
	}
	for _, it := range t.answer.Items() {
		dk, ok := it.Record.(*dns.DNSKEYRecord)
		if !ok {
			continue
		}
		owner := dk.Header().Name
		for _, vit := range t.validatedKeys.Items() {
			ds, ok := vit.Record.(*dns.DSRecord)
			if !ok || !dns.NamesEqual(ds.Header().Name, owner) {
				continue
			}
			match, err := dnssec.MatchesDS(ds, dk, owner)
			if err != nil || !match {
				continue
			}
			t.validatedKeys.Add(dk, it.IfIndex, dns.AnswerAuthenticated)
			break
		}
	}
}

// rrsetAndSigs splits one RRset key of the answer into its records and
// the RRSIGs covering it.
func (t *Transaction) rrsetAndSigs(key dns.ResourceKey) ([]dns.Record, []*dns.RRSIGRecord) {
	var rrset []dns.Record
	var sigs []*dns.RRSIGRecord
	for _, it := range t.answer.Items() {
		if sig, ok := it.Record.(*dns.RRSIGRecord); ok {
			if sig.TypeCovered == key.Type && dns.NamesEqual(sig.Header().Name, key.Name) {
				sigs = append(sigs, sig)
			}
			continue
		}
		if key.MatchesRecord(it.Record) {
			rrset = append(rrset, it.Record)
		}
	}
	return rrset, sigs
}

// validateDNSSEC runs the proof over the installed answer: every RRset
// either verifies against a validated key, is insecure under an
// unsupported algorithm or an unsigned zone, or is bogus. Validation
// iterates to a fixed point because verifying a DNSKEY RRset can unlock
// the RRsets it signs.
func (t *Transaction) validateDNSSEC() error {
	if t.scope.DNSSECMode != DNSSECYes || t.scope.Protocol != dns.ProtocolDNS {
		return nil
	}
	if t.answerSource != SourceNetwork {
		return nil
	}
	if t.scope.Trust != nil && t.scope.Trust.LookupNegative(t.key.Name) {
		t.dnssecResult = DNSSECNoSignature
		return nil
	}
	if t.answer == nil || t.answer.IsEmpty() {
		t.dnssecResult = DNSSECNoSignature
		return nil
	}

	now := t.scope.Loop.Now()
	t.validateDNSKEYByDS()

	validated := dns.NewAnswer(0)
	insecure := false

	for changed := true; changed; {
		changed = false
		for _, key := range t.answer.Keys() {
			if key.Type == dns.TypeRRSIG {
				continue
			}
			rrset, sigs := t.rrsetAndSigs(key)
			if len(rrset) == 0 || len(sigs) == 0 {
				continue
			}

			_, _, err := dnssec.VerifyRRSetSearch(now, rrset, sigs, t.dnskeysForValidation())
			switch {
			case err == nil:
				for _, rr := range rrset {
					validated.Add(rr, t.scope.IfIndex, dns.AnswerAuthenticated|dns.AnswerCacheable|dns.AnswerSectionAnswer)
					if dk, ok := rr.(*dns.DNSKEYRecord); ok {
						if t.validatedKeys == nil {
							t.validatedKeys = dns.NewAnswer(0)
						}
						t.validatedKeys.Add(dk, t.scope.IfIndex, dns.AnswerAuthenticated)
					}
				}
				t.answer.RemoveByKey(key)
				t.answer.RemoveByKey(dns.NewKey(key.Name, dns.TypeRRSIG, key.Class))
				changed = true

			case errors.Is(err, dnssec.ErrUnsupportedAlgorithm):
				// An algorithm we cannot check downgrades the RRset to
				// insecure, never to bogus (RFC 4035 Section 5.2).
				for _, rr := range rrset {
					validated.Add(rr, t.scope.IfIndex, dns.AnswerCacheable|dns.AnswerSectionAnswer)
				}
				t.answer.RemoveByKey(key)
				t.answer.RemoveByKey(dns.NewKey(key.Name, dns.TypeRRSIG, key.Class))
				insecure = true
				changed = true
			}
			if changed {
				break
			}
		}
	}

	// Whatever is left either never had a signature or failed every
	// verification attempt. For the RRsets that answer the question
	// itself that distinction decides the whole transaction; stray
	// additional data is silently dropped.
	bogus := false
	unsignedPrimary := false
	for _, key := range t.answer.Keys() {
		if key.Type == dns.TypeRRSIG {
			continue
		}
		rrset, sigs := t.rrsetAndSigs(key)
		if len(rrset) == 0 {
			continue
		}
		if !t.isPrimary(key) {
			continue
		}
		if len(sigs) == 0 {
			unsignedPrimary = true
			for _, rr := range rrset {
				validated.Add(rr, t.scope.IfIndex, dns.AnswerCacheable|dns.AnswerSectionAnswer)
			}
			continue
		}
		bogus = true
	}

	if bogus {
		t.dnssecResult = DNSSECBogus
		return nil
	}

	t.answer = validated
	switch {
	case unsignedPrimary || insecure:
		t.dnssecResult = DNSSECNoSignature
		t.answerAuthenticated = false
		t.cacheable = CacheableAnswerSection
	case validated.IsEmpty():
		t.dnssecResult = DNSSECNoSignature
		t.answerAuthenticated = false
	default:
		t.dnssecResult = DNSSECValidated
		t.answerAuthenticated = true
		t.cacheable = CacheableAll
	}
	return nil
}
