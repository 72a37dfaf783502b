package expr

import "fmt"

// Opcode identifies the kind of one evaluation step. The set is closed and
// mirrors the host engine's step kinds; most have no native stencil.
type Opcode int64

const (
	OpDone Opcode = iota
	OpInnerFetchsome
	OpOuterFetchsome
	OpScanFetchsome
	OpInnerVar
	OpOuterVar
	OpScanVar
	OpInnerSysvar
	OpOuterSysvar
	OpScanSysvar
	OpWholerow
	OpAssignInnerVar
	OpAssignOuterVar
	OpAssignScanVar
	OpAssignTmp
	OpAssignTmpMakeRo
	OpConst
	OpFuncexpr
	OpFuncexprStrict
	OpFuncexprFusage
	OpFuncexprStrictFusage
	OpBoolAndStepFirst
	OpBoolAndStep
	OpBoolAndStepLast
	OpBoolOrStepFirst
	OpBoolOrStep
	OpBoolOrStepLast
	OpBoolNotStep
	OpQual
	OpJump
	OpJumpIfNull
	OpJumpIfNotNull
	OpJumpIfNotTrue
	OpNulltestIsnull
	OpNulltestIsnotnull
	OpNulltestRowisnull
	OpNulltestRowisnotnull
	OpBooltestIsTrue
	OpBooltestIsNotTrue
	OpBooltestIsFalse
	OpBooltestIsNotFalse
	OpParamExec
	OpParamExtern
	OpParamCallback
	OpCaseTestval
	OpMakeReadonly
	OpIocoerce
	OpDistinct
	OpNotDistinct
	OpNullif
	OpSqlvaluefunction
	OpCurrentofexpr
	OpNextvalueexpr
	OpArrayexpr
	OpArraycoerce
	OpRow
	OpRowcompareStep
	OpRowcompareFinal
	OpMinmax
	OpFieldselect
	OpFieldstoreDeform
	OpFieldstoreForm
	OpSbsrefSubscripts
	OpSbsrefOld
	OpSbsrefAssign
	OpSbsrefFetch
	OpDomainTestval
	OpDomainNotnull
	OpDomainCheck
	OpConvertRowtype
	OpScalararrayop
	OpHashedScalararrayop
	OpXmlexpr
	OpJsonConstructor
	OpIsJson
	OpAggref
	OpGroupingFunc
	OpWindowFunc
	OpSubplan
	OpAggStrictDeserialize
	OpAggDeserialize
	OpAggStrictInputCheckArgs
	OpAggStrictInputCheckNulls
	OpAggPlainPergroupNullcheck
	OpAggPlainTransInitStrictByval
	OpAggPlainTransStrictByval
	OpAggPlainTransByval
	OpAggPlainTransInitStrictByref
	OpAggPlainTransStrictByref
	OpAggPlainTransByref
	OpAggPresortedDistinctSingle
	OpAggPresortedDistinctMulti
	OpAggOrderedTransDatum
	OpAggOrderedTransTuple
	OpLast
)

var opcodeNames = [...]string{
	OpDone: "EEOP_DONE",
	OpInnerFetchsome: "EEOP_INNER_FETCHSOME",
	OpOuterFetchsome: "EEOP_OUTER_FETCHSOME",
	OpScanFetchsome: "EEOP_SCAN_FETCHSOME",
	OpInnerVar: "EEOP_INNER_VAR",
	OpOuterVar: "EEOP_OUTER_VAR",
	OpScanVar: "EEOP_SCAN_VAR",
	OpInnerSysvar: "EEOP_INNER_SYSVAR",
	OpOuterSysvar: "EEOP_OUTER_SYSVAR",
	OpScanSysvar: "EEOP_SCAN_SYSVAR",
	OpWholerow: "EEOP_WHOLEROW",
	OpAssignInnerVar: "EEOP_ASSIGN_INNER_VAR",
	OpAssignOuterVar: "EEOP_ASSIGN_OUTER_VAR",
	OpAssignScanVar: "EEOP_ASSIGN_SCAN_VAR",
	OpAssignTmp: "EEOP_ASSIGN_TMP",
	OpAssignTmpMakeRo: "EEOP_ASSIGN_TMP_MAKE_RO",
	OpConst: "EEOP_CONST",
	OpFuncexpr: "EEOP_FUNCEXPR",
	OpFuncexprStrict: "EEOP_FUNCEXPR_STRICT",
	OpFuncexprFusage: "EEOP_FUNCEXPR_FUSAGE",
	OpFuncexprStrictFusage: "EEOP_FUNCEXPR_STRICT_FUSAGE",
	OpBoolAndStepFirst: "EEOP_BOOL_AND_STEP_FIRST",
	OpBoolAndStep: "EEOP_BOOL_AND_STEP",
	OpBoolAndStepLast: "EEOP_BOOL_AND_STEP_LAST",
	OpBoolOrStepFirst: "EEOP_BOOL_OR_STEP_FIRST",
	OpBoolOrStep: "EEOP_BOOL_OR_STEP",
	OpBoolOrStepLast: "EEOP_BOOL_OR_STEP_LAST",
	OpBoolNotStep: "EEOP_BOOL_NOT_STEP",
	OpQual: "EEOP_QUAL",
	OpJump: "EEOP_JUMP",
	OpJumpIfNull: "EEOP_JUMP_IF_NULL",
	OpJumpIfNotNull: "EEOP_JUMP_IF_NOT_NULL",
	OpJumpIfNotTrue: "EEOP_JUMP_IF_NOT_TRUE",
	OpNulltestIsnull: "EEOP_NULLTEST_ISNULL",
	OpNulltestIsnotnull: "EEOP_NULLTEST_ISNOTNULL",
	OpNulltestRowisnull: "EEOP_NULLTEST_ROWISNULL",
	OpNulltestRowisnotnull: "EEOP_NULLTEST_ROWISNOTNULL",
	OpBooltestIsTrue: "EEOP_BOOLTEST_IS_TRUE",
	OpBooltestIsNotTrue: "EEOP_BOOLTEST_IS_NOT_TRUE",
	OpBooltestIsFalse: "EEOP_BOOLTEST_IS_FALSE",
	OpBooltestIsNotFalse: "EEOP_BOOLTEST_IS_NOT_FALSE",
	OpParamExec: "EEOP_PARAM_EXEC",
	OpParamExtern: "EEOP_PARAM_EXTERN",
	OpParamCallback: "EEOP_PARAM_CALLBACK",
	OpCaseTestval: "EEOP_CASE_TESTVAL",
	OpMakeReadonly: "EEOP_MAKE_READONLY",
	OpIocoerce: "EEOP_IOCOERCE",
	OpDistinct: "EEOP_DISTINCT",
	OpNotDistinct: "EEOP_NOT_DISTINCT",
	OpNullif: "EEOP_NULLIF",
	OpSqlvaluefunction: "EEOP_SQLVALUEFUNCTION",
	OpCurrentofexpr: "EEOP_CURRENTOFEXPR",
	OpNextvalueexpr: "EEOP_NEXTVALUEEXPR",
	OpArrayexpr: "EEOP_ARRAYEXPR",
	OpArraycoerce: "EEOP_ARRAYCOERCE",
	OpRow: "EEOP_ROW",
	OpRowcompareStep: "EEOP_ROWCOMPARE_STEP",
	OpRowcompareFinal: "EEOP_ROWCOMPARE_FINAL",
	OpMinmax: "EEOP_MINMAX",
	OpFieldselect: "EEOP_FIELDSELECT",
	OpFieldstoreDeform: "EEOP_FIELDSTORE_DEFORM",
	OpFieldstoreForm: "EEOP_FIELDSTORE_FORM",
	OpSbsrefSubscripts: "EEOP_SBSREF_SUBSCRIPTS",
	OpSbsrefOld: "EEOP_SBSREF_OLD",
	OpSbsrefAssign: "EEOP_SBSREF_ASSIGN",
	OpSbsrefFetch: "EEOP_SBSREF_FETCH",
	OpDomainTestval: "EEOP_DOMAIN_TESTVAL",
	OpDomainNotnull: "EEOP_DOMAIN_NOTNULL",
	OpDomainCheck: "EEOP_DOMAIN_CHECK",
	OpConvertRowtype: "EEOP_CONVERT_ROWTYPE",
	OpScalararrayop: "EEOP_SCALARARRAYOP",
	OpHashedScalararrayop: "EEOP_HASHED_SCALARARRAYOP",
	OpXmlexpr: "EEOP_XMLEXPR",
	OpJsonConstructor: "EEOP_JSON_CONSTRUCTOR",
	OpIsJson: "EEOP_IS_JSON",
	OpAggref: "EEOP_AGGREF",
	OpGroupingFunc: "EEOP_GROUPING_FUNC",
	OpWindowFunc: "EEOP_WINDOW_FUNC",
	OpSubplan: "EEOP_SUBPLAN",
	OpAggStrictDeserialize: "EEOP_AGG_STRICT_DESERIALIZE",
	OpAggDeserialize: "EEOP_AGG_DESERIALIZE",
	OpAggStrictInputCheckArgs: "EEOP_AGG_STRICT_INPUT_CHECK_ARGS",
	OpAggStrictInputCheckNulls: "EEOP_AGG_STRICT_INPUT_CHECK_NULLS",
	OpAggPlainPergroupNullcheck: "EEOP_AGG_PLAIN_PERGROUP_NULLCHECK",
	OpAggPlainTransInitStrictByval: "EEOP_AGG_PLAIN_TRANS_INIT_STRICT_BYVAL",
	OpAggPlainTransStrictByval: "EEOP_AGG_PLAIN_TRANS_STRICT_BYVAL",
	OpAggPlainTransByval: "EEOP_AGG_PLAIN_TRANS_BYVAL",
	OpAggPlainTransInitStrictByref: "EEOP_AGG_PLAIN_TRANS_INIT_STRICT_BYREF",
	OpAggPlainTransStrictByref: "EEOP_AGG_PLAIN_TRANS_STRICT_BYREF",
	OpAggPlainTransByref: "EEOP_AGG_PLAIN_TRANS_BYREF",
	OpAggPresortedDistinctSingle: "EEOP_AGG_PRESORTED_DISTINCT_SINGLE",
	OpAggPresortedDistinctMulti: "EEOP_AGG_PRESORTED_DISTINCT_MULTI",
	OpAggOrderedTransDatum: "EEOP_AGG_ORDERED_TRANS_DATUM",
	OpAggOrderedTransTuple: "EEOP_AGG_ORDERED_TRANS_TUPLE",
	OpLast: "EEOP_LAST",
}

func (o Opcode) String() string {
	if o >= 0 && int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return fmt.Sprintf("EEOP_UNKNOWN(%d)", int64(o))
}

// Valid reports whether o names a real step kind (OpLast is a sentinel).
func (o Opcode) Valid() bool {
	return o >= 0 && o < OpLast
}

// OpcodeByName resolves the EEOP_* name used in logs and stencil images.
func OpcodeByName(name string) (Opcode, bool) {
	for i, n := range opcodeNames {
		if n == name {
			return Opcode(i), true
		}
	}
	return 0, false
}
