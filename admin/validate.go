package admin

import (
	"regexp"

	"circuitadmin/crypto"
)

var (
	circuitIDPattern = regexp.MustCompile(`^[0-9A-Za-z]{5}-[0-9A-Za-z]{5}$`)
	serviceIDPattern = regexp.MustCompile(`^[0-9A-Za-z]{4}$`)
)

// ServiceArgValidator validates a service's argument list. Registered per
// service type; absence of a registered validator means any argument list is
// accepted.
type ServiceArgValidator func(args []Argument) error

// validationContext bundles the collaborators validation needs so the
// functions below stay pure with respect to coordinator state.
type validationContext struct {
	selfNodeID      string
	keyVerifier     KeyVerifier
	permissions     KeyPermissionManager
	argValidators   map[string]ServiceArgValidator
	circuitProtocol uint32
}

// validateCreateCircuit enforces the grammar over a proposed create.
// agreedProtocol is the minimum protocol version agreed across all proposed
// members — the proposal uses the minimum of all members' agreed versions.
func (vc *validationContext) validateCreateCircuit(req *CreateCircuitRequest, requesterNodeID string, requesterKey []byte, existingProposal bool, existingCircuit bool, agreedProtocol uint32) error {
	if requesterNodeID == "" {
		return newValidationError("requester_node_id must not be empty")
	}
	if len(requesterKey) != crypto.PublicKeyLength {
		return newValidationError("requester key must be %d bytes, got %d", crypto.PublicKeyLength, len(requesterKey))
	}
	if vc.keyVerifier != nil && !vc.keyVerifier.IsPermitted(requesterNodeID, requesterKey) {
		return newPermissionError("requester key is not permitted for node %q", requesterNodeID)
	}
	if vc.permissions != nil && !vc.permissions.HasRole(requesterKey, RoleProposer) {
		return newPermissionError("requester key does not hold the proposer role")
	}
	if existingProposal || existingCircuit {
		return newValidationError("a proposal or circuit with id %q already exists", req.Circuit.CircuitID)
	}
	if !circuitIDPattern.MatchString(req.Circuit.CircuitID) {
		return newValidationError("circuit_id %q does not match XXXXX-YYYYY format", req.Circuit.CircuitID)
	}
	if req.Circuit.ManagementType == "" {
		return newValidationError("management_type must not be empty")
	}
	if req.Circuit.AuthorizationType == AuthorizationUnset {
		return newValidationError("authorization_type must be set")
	}
	if req.Circuit.Persistence == PersistenceUnset {
		return newValidationError("persistence must be set")
	}
	if req.Circuit.Durability == DurabilityUnset {
		return newValidationError("durability must be set")
	}
	if req.Circuit.Routes == RouteUnset {
		return newValidationError("routes must be set")
	}
	if err := validateMembers(&req.Circuit, vc.selfNodeID); err != nil {
		return err
	}
	if err := validateRoster(&req.Circuit); err != nil {
		return err
	}
	if err := vc.validateSchemaVersion(&req.Circuit, agreedProtocol); err != nil {
		return err
	}
	if vc.argValidators != nil {
		for _, svc := range req.Circuit.Roster {
			if validator, ok := vc.argValidators[svc.ServiceType]; ok {
				if err := validator(svc.Arguments); err != nil {
					return newValidationError("service %q arguments invalid: %v", svc.ServiceID, err)
				}
			}
		}
	}
	return nil
}

func validateMembers(c *Circuit, selfNodeID string) error {
	if len(c.Members) == 0 {
		return newValidationError("members must not be empty")
	}
	if !c.HasMember(selfNodeID) {
		return newValidationError("members must include self (%q)", selfNodeID)
	}
	seenNode := make(map[string]struct{}, len(c.Members))
	seenEndpoint := make(map[string]struct{})
	for _, m := range c.Members {
		if m.NodeID == "" {
			return newValidationError("member node id must not be empty")
		}
		if _, dup := seenNode[m.NodeID]; dup {
			return newValidationError("duplicate member node id %q", m.NodeID)
		}
		seenNode[m.NodeID] = struct{}{}
		if len(m.Endpoints) == 0 {
			return newValidationError("member %q must have at least one endpoint", m.NodeID)
		}
		for _, ep := range m.Endpoints {
			if ep == "" {
				return newValidationError("member %q has an empty endpoint", m.NodeID)
			}
			if _, dup := seenEndpoint[ep]; dup {
				return newValidationError("duplicate endpoint %q", ep)
			}
			seenEndpoint[ep] = struct{}{}
		}
	}
	return nil
}

func validateRoster(c *Circuit) error {
	if len(c.Roster) == 0 {
		return newValidationError("roster must not be empty")
	}
	seenService := make(map[string]struct{}, len(c.Roster))
	for _, svc := range c.Roster {
		if !serviceIDPattern.MatchString(svc.ServiceID) {
			return newValidationError("service_id %q does not match 4-char base62 format", svc.ServiceID)
		}
		if _, dup := seenService[svc.ServiceID]; dup {
			return newValidationError("duplicate service_id %q", svc.ServiceID)
		}
		seenService[svc.ServiceID] = struct{}{}
		if len(svc.AllowedNodes) != 1 {
			return newValidationError("service %q must have exactly one allowed node, got %d", svc.ServiceID, len(svc.AllowedNodes))
		}
		if !c.HasMember(svc.AllowedNodes[0]) {
			return newValidationError("service %q allowed node %q is not a circuit member", svc.ServiceID, svc.AllowedNodes[0])
		}
	}
	return nil
}

// validateSchemaVersion enforces the protocol-version-gated fields:
// protocol v1 forbids display_name and an explicit circuit_status.
func (vc *validationContext) validateSchemaVersion(c *Circuit, agreedProtocol uint32) error {
	if agreedProtocol <= 1 {
		if c.DisplayName != "" {
			return newValidationError("display_name requires admin protocol version > 1")
		}
		if c.CircuitStatus != "" {
			return newValidationError("circuit_status requires admin protocol version > 1")
		}
	}
	if vc.circuitProtocol != 0 && uint32(c.CircuitVersion) > vc.circuitProtocol {
		return newValidationError("circuit_version %d exceeds supported CIRCUIT_PROTOCOL_VERSION %d", c.CircuitVersion, vc.circuitProtocol)
	}
	return nil
}

// validateVote enforces the vote grammar.
func (vc *validationContext) validateVote(proposal *CircuitProposal, voterNodeID string, voterKey []byte, circuitHash string) error {
	if len(voterKey) != crypto.PublicKeyLength {
		return newValidationError("voter key must be %d bytes, got %d", crypto.PublicKeyLength, len(voterKey))
	}
	if vc.keyVerifier != nil && !vc.keyVerifier.IsPermitted(voterNodeID, voterKey) {
		return newPermissionError("voter key is not permitted for node %q", voterNodeID)
	}
	if voterNodeID == proposal.RequesterNodeID {
		return newValidationError("requester %q may not cast an explicit vote", voterNodeID)
	}
	if proposal.HasVoted(voterNodeID) {
		return newValidationError("node %q has already voted on this proposal", voterNodeID)
	}
	if vc.permissions != nil && !vc.permissions.HasRole(voterKey, RoleVoter) {
		return newPermissionError("voter key does not hold the voter role")
	}
	if circuitHash != proposal.CircuitHash {
		return newValidationError("vote circuit_hash does not match the proposed circuit hash")
	}
	return nil
}

// validateDisband enforces the disband grammar.
func (vc *validationContext) validateDisband(c *Circuit, requesterNodeID string, requesterKey []byte, hasPendingDisband bool, circuitProtocolVersion uint32) error {
	if c == nil {
		return newValidationError("circuit does not exist")
	}
	if c.CircuitStatus != CircuitStatusActive {
		return newValidationError("circuit is not Active")
	}
	if uint32(c.CircuitVersion) != circuitProtocolVersion {
		return newValidationError("circuit_version %d does not match the current protocol version %d", c.CircuitVersion, circuitProtocolVersion)
	}
	if hasPendingDisband {
		return newValidationError("a disband proposal for this circuit is already pending")
	}
	if vc.keyVerifier != nil && !vc.keyVerifier.IsPermitted(requesterNodeID, requesterKey) {
		return newPermissionError("requester key is not permitted for node %q", requesterNodeID)
	}
	if vc.permissions != nil && !vc.permissions.HasRole(requesterKey, RoleProposer) {
		return newPermissionError("requester key does not hold the proposer role")
	}
	return nil
}

// validatePurge enforces the purge grammar. Purge is local-only.
func (vc *validationContext) validatePurge(c *Circuit, requesterNodeID string, requesterKey []byte, circuitProtocolVersion uint32) error {
	if c == nil {
		return newValidationError("circuit does not exist")
	}
	if c.CircuitStatus == CircuitStatusActive {
		return newValidationError("attempting to purge a circuit that is still active")
	}
	if requesterNodeID != vc.selfNodeID {
		return newValidationError("purge may only be requested locally")
	}
	if uint32(c.CircuitVersion) != circuitProtocolVersion {
		return newValidationError("circuit_version %d does not match the current protocol version %d", c.CircuitVersion, circuitProtocolVersion)
	}
	if vc.keyVerifier != nil && !vc.keyVerifier.IsPermitted(requesterNodeID, requesterKey) {
		return newPermissionError("requester key is not permitted for node %q", requesterNodeID)
	}
	if vc.permissions != nil && !vc.permissions.HasRole(requesterKey, RoleProposer) {
		return newPermissionError("requester key does not hold the proposer role")
	}
	return nil
}

// validateAbandon enforces the abandon grammar. Abandon is local-only.
func (vc *validationContext) validateAbandon(c *Circuit, requesterNodeID string, requesterKey []byte, circuitProtocolVersion uint32) error {
	if c == nil {
		return newValidationError("circuit does not exist")
	}
	if c.CircuitStatus != CircuitStatusActive {
		return newValidationError("circuit is not Active")
	}
	if requesterNodeID != vc.selfNodeID {
		return newValidationError("abandon may only be requested locally")
	}
	if uint32(c.CircuitVersion) != circuitProtocolVersion {
		return newValidationError("circuit_version %d does not match the current protocol version %d", c.CircuitVersion, circuitProtocolVersion)
	}
	if vc.keyVerifier != nil && !vc.keyVerifier.IsPermitted(requesterNodeID, requesterKey) {
		return newPermissionError("requester key is not permitted for node %q", requesterNodeID)
	}
	return nil
}
